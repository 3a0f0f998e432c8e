// Package logs pushes access log lines to a Loki compatible endpoint.
package logs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/config"
)

func NewLogBackend(backend config.LogBackend) *LogBackend {
	return &LogBackend{
		Config: backend,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type LogBackend struct {
	Config config.LogBackend
	client *http.Client
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]any           `json:"values"`
}

type Body struct {
	Streams []Stream `json:"streams"`
}

func (l *LogBackend) WriteLog(ctx context.Context, labels map[string]string, line map[string]string) error {
	parsedUrl, err := url.Parse(l.Config.BaseURL)
	if err != nil {
		return err
	}

	parsedUrl = parsedUrl.JoinPath("/loki/api/v1/push")

	marshalledLine, err := json.Marshal(line)
	if err != nil {
		return err
	}

	body := Body{
		Streams: []Stream{
			{
				Stream: labels,
				Values: [][]any{
					{
						fmt.Sprint(time.Now().UnixNano()),
						string(marshalledLine),
					},
				},
			},
		},
	}

	marshalled, err := json.Marshal(body)
	if err != nil {
		return err
	}

	logRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, parsedUrl.String(), bytes.NewReader(marshalled))
	if err != nil {
		return err
	}

	logRequest.Header.Add("Content-Type", "application/json")

	logResponse, err := l.client.Do(logRequest)
	if err != nil {
		return err
	}

	defer logResponse.Body.Close()

	if logResponse.StatusCode != http.StatusNoContent {
		return fmt.Errorf("could not create log entry: status %d", logResponse.StatusCode)
	}

	return nil
}

// Shipper sends lines to a LogBackend from a single background worker so
// request handling never waits on the log endpoint.
type Shipper struct {
	backend *LogBackend
	labels  map[string]string
	logger  *zap.Logger
	lines   chan map[string]string
	wg      sync.WaitGroup
	once    sync.Once
}

// NewShipper starts the worker. Lines beyond a queue of size are dropped.
func NewShipper(backend *LogBackend, size int, logger *zap.Logger) *Shipper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 1024
	}
	labels := map[string]string{"job": "wms-server"}
	for k, v := range backend.Config.Labels {
		labels[k] = v
	}

	s := &Shipper{
		backend: backend,
		labels:  labels,
		logger:  logger,
		lines:   make(chan map[string]string, size),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Shipper) run() {
	defer s.wg.Done()
	for line := range s.lines {
		if err := s.backend.WriteLog(context.Background(), s.labels, line); err != nil {
			s.logger.Warn("could not ship access log", zap.Error(err))
		}
	}
}

// Send queues line. It never blocks.
func (s *Shipper) Send(line map[string]string) {
	select {
	case s.lines <- line:
	default:
		s.logger.Debug("access log queue full, dropping line")
	}
}

// Close flushes queued lines and stops the worker. Send must not be called
// afterwards.
func (s *Shipper) Close() {
	s.once.Do(func() {
		close(s.lines)
		s.wg.Wait()
	})
}
