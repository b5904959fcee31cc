package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/hibi/internal/apperr"
	"github.com/starford/hibi/internal/diary"
	"github.com/starford/hibi/internal/diaryservice"
	"github.com/starford/hibi/internal/syncer"
)

const (
	maxFormBytes = 1 << 20
	retryAfter   = "5"
)

// Submitter runs one guarded synchronization.
type Submitter interface {
	Submit(ctx context.Context, rec diary.Record) (*syncer.Result, error)
}

// DiaryHandler handles POST /diary.
type DiaryHandler struct {
	svc Submitter
}

// NewDiaryHandler creates a DiaryHandler.
func NewDiaryHandler(svc Submitter) *DiaryHandler {
	return &DiaryHandler{svc: svc}
}

type diaryForm struct {
	Title   string
	Content string
	Date    string
}

func (f *diaryForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Title, validation.Required),
		validation.Field(&f.Content, validation.Required),
		validation.Field(&f.Date, validation.Required, validation.By(func(v any) error {
			if !diary.MatchesLayout(v.(string)) {
				return errors.New("must be in YYYY-MM-DD form")
			}
			return nil
		})),
	)
}

func (h *DiaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(maxFormBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		writePage(w, http.StatusBadRequest, "invalid", "could not read form: "+err.Error())
		return
	}

	form := diaryForm{
		Title:   r.PostFormValue("title"),
		Content: r.PostFormValue("content"),
		Date:    r.PostFormValue("date"),
	}
	if err := form.Validate(); err != nil {
		writePage(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}

	res, err := h.svc.Submit(r.Context(), diary.Record{Title: form.Title, Content: form.Content, Date: form.Date})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	writePage(w, http.StatusOK, "updated", updatedPage{Date: res.Date.String(), Path: res.RelPath})
}

func (h *DiaryHandler) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrBusy):
		w.Header().Set("Retry-After", retryAfter)
		writePage(w, http.StatusServiceUnavailable, "busy", nil)
	case errors.Is(err, apperr.ErrInvalidRecord):
		writePage(w, http.StatusBadRequest, "invalid", err.Error())
	default:
		step, command, stderr := diaryservice.FailureDetail(err)
		slog.Error("diary update failed",
			slog.String("step", step),
			slog.String("command", command),
			slog.String("error", err.Error()))
		writePage(w, http.StatusInternalServerError, "failed", failedPage{
			Step:    step,
			Command: command,
			Stderr:  cleanOutput(stderr),
			Error:   cleanOutput([]byte(err.Error())),
		})
	}
}
