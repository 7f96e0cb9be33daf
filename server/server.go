// Package server exposes the tutor's form actions over HTTP.
//
// Every action answers 200 with a JSON envelope; failures are reported in
// its error field so a form can render them next to the input. Only a
// request for an unknown action type is rejected with 400.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/richinex/tutor/gateway"
	"github.com/richinex/tutor/quiz"
	"github.com/richinex/tutor/storage"
	"github.com/richinex/tutor/telemetry"
)

// Action types accepted by POST /action.
const (
	ActionCheckAnswer       = "checkAnswer"
	ActionGenerateQuestions = "generateQuestions"
	actionChat              = "chat"
)

// GenericError is shown when an error carries no message.
const GenericError = "Something went wrong! Please try again."

const maxUpload = 10 << 20

// Response is the body of every action and chat reply.
type Response struct {
	Type      string   `json:"type,omitempty"`
	Message   string   `json:"message,omitempty"`
	Reply     string   `json:"reply"`
	Questions []string `json:"questions,omitempty"`
	Session   string   `json:"session,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Options configures a Server.
type Options struct {
	Tutor   *quiz.Tutor
	Gateway *gateway.Gateway
	// Sessions stores chat histories. Nil makes every chat one-shot.
	Sessions storage.ConversationStorage
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// Server routes form actions to the tutor.
type Server struct {
	tutor    *quiz.Tutor
	gw       *gateway.Gateway
	sessions storage.ConversationStorage
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a Server with its routes registered.
func New(opts Options) *Server {
	s := &Server{
		tutor:    opts.Tutor,
		gw:       opts.Gateway,
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		mux:      http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.mux.HandleFunc("POST /action", s.handleAction)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// live calls may retry; leave room for the whole policy
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		s.writeJSON(w, http.StatusOK, Response{Error: errorMessage(err)})
		return
	}

	actionType := r.FormValue("type")
	start := time.Now()
	var (
		resp Response
		err  error
	)

	switch actionType {
	case ActionCheckAnswer:
		resp, err = s.checkAnswer(r)
	case ActionGenerateQuestions:
		resp, err = s.generateQuestions(r)
	default:
		s.writeJSON(w, http.StatusBadRequest, Response{
			Type:  actionType,
			Error: "unknown action type " + quoteOrEmpty(actionType),
		})
		return
	}

	s.finish(w, r, actionType, start, resp, err)
}

func (s *Server) checkAnswer(r *http.Request) (Response, error) {
	question := r.FormValue("question")
	answer := r.FormValue("answer")
	resp := Response{Type: ActionCheckAnswer, Message: answer}

	reply, err := s.tutor.CheckAnswer(r.Context(), question, answer)
	resp.Reply = reply
	return resp, err
}

func (s *Server) generateQuestions(r *http.Request) (Response, error) {
	topic := r.FormValue("topic")
	resp := Response{Type: ActionGenerateQuestions, Message: topic}

	image, err := formFile(r, "image")
	if err != nil {
		return resp, err
	}

	questions, err := s.tutor.QuestionsFromImage(r.Context(), image, SplitWords(r.FormValue("knownWords")), topic)
	resp.Questions = questions
	resp.Reply = strings.Join(questions, "\n")
	return resp, err
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		s.writeJSON(w, http.StatusOK, Response{Type: actionChat, Error: errorMessage(err)})
		return
	}

	start := time.Now()
	message := r.FormValue("message")
	session := r.FormValue("session")
	resp := Response{Type: actionChat, Message: message, Session: session}

	reply, session, err := s.chat(r.Context(), session, message)
	resp.Reply = reply
	resp.Session = session
	s.finish(w, r, actionChat, start, resp, err)
}

func (s *Server) chat(ctx context.Context, session, message string) (string, string, error) {
	if s.sessions == nil {
		reply, err := s.tutor.Reply(ctx, message, nil)
		return reply, session, err
	}

	if session == "" {
		session = uuid.NewString()
	}
	history, err := s.sessions.Load(ctx, session)
	if err != nil {
		return "", session, err
	}

	conv := gateway.NewConversation(history...)
	reply, err := s.tutor.Reply(ctx, message, conv)
	if err != nil {
		return "", session, err
	}
	// a cache hit leaves the conversation as it was
	if conv.Len() != len(history) {
		if err := s.sessions.Save(ctx, session, conv.Messages()); err != nil {
			return reply, session, err
		}
	}
	return reply, session, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.gw != nil {
		if stats, err := s.gw.Stats(r.Context()); err == nil {
			body["cache_entries"] = stats.Entries
			body["cache_hits"] = stats.Hits
			body["cache_misses"] = stats.Misses
		}
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request, actionType string, start time.Time, resp Response, err error) {
	s.metrics.RecordAction(actionType, time.Since(start), err)
	if err != nil {
		s.logger.Warn("action failed", "type", actionType, "error", err, "remote", r.RemoteAddr)
		resp.Error = errorMessage(err)
	} else {
		s.logger.Debug("action handled", "type", actionType, "duration", time.Since(start))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(maxUpload)
	}
	return r.ParseForm()
}

func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, errors.New("an image of the textbook page is required")
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return GenericError
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return `"` + s + `"`
}

// SplitWords splits a known-words field on commas (ASCII or CJK),
// enumeration commas and whitespace.
func SplitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || unicode.IsSpace(r)
	})
}
