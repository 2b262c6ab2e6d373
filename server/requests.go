package server

type CreateDocRequest struct {
	Name   string `json:"name"`
	Author string `json:"author"`
}

type TextResponse struct {
	Content  string `json:"content"`
	Version  int64  `json:"version"`
	Checksum string `json:"checksum"`
}
