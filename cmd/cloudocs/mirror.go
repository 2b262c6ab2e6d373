package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/ssau-fiit/cloudocs-sync/client"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror [file]",
	Short: "Keep a local file in sync with a document",
	Long: `mirror joins the session and writes the document to the file. Edits saved
to the file are sent as replace operations, and edits from collaborators are
written back to it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := cfg.Client()
		if err != nil {
			return err
		}

		c, err := client.New(cc)
		if err != nil {
			return err
		}
		defer c.Close()

		m, err := newFileMirror(args[0], c)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c.On(client.EventDocumentChanged, func(e client.Event) {
			if e.Source == client.SourceLocal {
				return
			}
			if err := m.pull(); err != nil {
				log.Error().Err(err).Str("file", m.path).Msg("failed to write document")
			}
		})
		c.On(client.EventError, func(e client.Event) {
			if errors.Is(e.Err, client.ErrReconnectExhausted) {
				log.Error().Err(e.Err).Msg("giving up on the relay")
				stop()
			}
		})

		if err := c.Connect(ctx); err != nil {
			return err
		}
		log.Info().Str("file", m.path).Str("session", c.SessionID()).Msg("mirroring document")

		return m.watch(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mirrorCmd)
	addSessionFlags(mirrorCmd)
}

// fileMirror copies a document to a file and file saves back to the document.
// last holds the content most recently seen on disk, so writes made by pull
// are not sent back as edits.
type fileMirror struct {
	path   string
	client *client.Client

	mu   sync.Mutex
	last string
}

func newFileMirror(path string, c *client.Client) (*fileMirror, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	m := &fileMirror{path: abs, client: c}
	data, err := os.ReadFile(abs)
	switch {
	case err == nil:
		m.last = string(data)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", abs, err)
	}
	return m, nil
}

// pull writes the document to the file when it differs from what is there.
func (m *fileMirror) pull() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	content := m.client.Content()
	if content == m.last {
		return nil
	}
	if err := os.WriteFile(m.path, []byte(content), 0644); err != nil {
		return err
	}
	m.last = content
	return nil
}

// push sends the file as a replace operation when it was changed on disk.
func (m *fileMirror) push() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	content := string(data)
	if content == m.last {
		return nil
	}
	m.last = content
	if content == m.client.Content() {
		return nil
	}

	_, err = m.client.Replace(content)
	return err
}

// watch watches the file's directory, since editors often save by renaming a
// temporary file over the original.
func (m *fileMirror) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.path, err)
	}

	var settle *time.Timer
	changed := make(chan struct{}, 1)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(50*time.Millisecond, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
		case <-changed:
			if err := m.push(); err != nil {
				log.Error().Err(err).Str("file", m.path).Msg("failed to send file changes")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("fsnotify error")
		}
	}
}
