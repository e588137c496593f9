// Package worker consumes synthesis jobs and book deletions from NATS.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/core"
	"github.com/book-expert/paperread-tts/internal/tts"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 2 * time.Minute

var (
	// ErrVoiceEmpty indicates a job without a voice.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
	// ErrTextKeyEmpty indicates a job without a text object key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrBookIDEmpty indicates a deletion event without a book id.
	ErrBookIDEmpty = errors.New("book id cannot be empty")
)

// Synthesizer renders a request into the audio cache.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error)
}

// AudioEvictor removes the cached audio recorded for a book.
type AudioEvictor interface {
	RemoveForBook(bookID string) (int, error)
}

// BookDeletedEvent announces that a book was removed from the library.
type BookDeletedEvent struct {
	Header events.EventHeader `json:"header"`
	BookID string             `json:"book_id"`
}

// BookDeletedReply reports how many cached files were removed.
type BookDeletedReply struct {
	BookID  string `json:"book_id"`
	Removed int    `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// Subjects names the subjects the worker listens on.
type Subjects struct {
	TextProcessed string
	BookDeleted   string
}

// NatsWorker handles synthesis jobs and cache eviction requests.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	store          core.ObjectStore
	synth          Synthesizer
	evictor        AudioEvictor
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	store core.ObjectStore,
	synth Synthesizer,
	evictor AudioEvictor,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		store:          store,
		synth:          synth,
		evictor:        evictor,
		log:            log,
	}
}

// Run subscribes to both subjects and blocks until ctx is done, then drains
// the subscriptions.
func (w *NatsWorker) Run(ctx context.Context) error {
	textSub, err := w.natsConnection.Subscribe(w.subjects.TextProcessed, w.handleTextProcessed)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.TextProcessed, err)
	}

	deleteSub, err := w.natsConnection.Subscribe(w.subjects.BookDeleted, w.handleBookDeleted)
	if err != nil {
		_ = textSub.Unsubscribe()

		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.BookDeleted, err)
	}

	w.log.Info("Worker listening on %s and %s", w.subjects.TextProcessed, w.subjects.BookDeleted)

	<-ctx.Done()

	drainErr := errors.Join(textSub.Drain(), deleteSub.Drain())
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleTextProcessed(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal text processed event: %v", err)

		return
	}

	audioKey, err := w.processTTSJob(ctx, &event)
	if err != nil {
		w.log.Error("Failed to process TTS job for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	reply := &events.AudioChunkCreatedEvent{
		Header:     replyHeader(event.Header),
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processTTSJob downloads the page text, renders it through the cache and
// uploads the audio under its cache filename.
func (w *NatsWorker) processTTSJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	if event.TextKey == "" {
		return "", ErrTextKeyEmpty
	}

	if event.Voice == "" {
		return "", ErrVoiceEmpty
	}

	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	result, err := w.synth.Synthesize(ctx, tts.Request{
		Text:    string(textData),
		VoiceID: event.Voice,
		BookID:  event.Header.WorkflowID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize page %d: %w", event.PageNumber, err)
	}

	audioData, err := os.ReadFile(result.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read rendered audio '%s': %w", result.Filename, err)
	}

	err = w.store.Upload(ctx, result.Filename, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", result.Filename, err)
	}

	return result.Filename, nil
}

func (w *NatsWorker) handleBookDeleted(msg *nats.Msg) {
	var event BookDeletedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err == nil && event.BookID == "" {
		err = ErrBookIDEmpty
	}

	if err != nil {
		w.log.Error("Invalid book deleted event: %v", err)

		return
	}

	reply := BookDeletedReply{BookID: event.BookID}

	reply.Removed, err = w.evictor.RemoveForBook(event.BookID)
	if err != nil {
		w.log.Error("Audio cleanup for book %s failed after %d files: %v", event.BookID, reply.Removed, err)
		reply.Error = err.Error()
	} else {
		w.log.Info("Removed %d cached audio files for book %s", reply.Removed, event.BookID)
	}

	err = respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to reply to book deleted event for %s: %v", event.BookID, err)
	}
}

func replyHeader(request events.EventHeader) events.EventHeader {
	header := request
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now()

	return header
}

// respond replies when the sender asked for one.
func respond(msg *nats.Msg, payload any) error {
	if msg.Reply == "" {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	err = msg.Respond(data)
	if err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}

	return nil
}
