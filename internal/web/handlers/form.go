package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/ingest"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// formValidator returns the shared validator, reporting fields by their form name.
func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return fld.Tag.Get("form")
		})
	})
	return validate
}

// uploadForm is the metadata every upload must carry. Values are canonicalized
// before validation, so blank values count as missing.
type uploadForm struct {
	Event      string `form:"event" validate:"required,max=200"`
	Date       string `form:"date" validate:"required,max=64"`
	Department string `form:"department" validate:"required,max=200"`
	District   string `form:"district" validate:"required,max=200"`
}

// searchForm holds the optional search filters.
type searchForm struct {
	Event      string `form:"event" validate:"max=200"`
	Date       string `form:"date" validate:"max=64"`
	Department string `form:"department" validate:"max=200"`
	District   string `form:"district" validate:"max=200"`
}

func (f uploadForm) metadata() ingest.Metadata {
	return ingest.Metadata{Event: f.Event, Date: f.Date, Department: f.Department, District: f.District}
}

func (f searchForm) filters() database.Filters {
	return database.Filters{Event: f.Event, Date: f.Date, Department: f.Department, District: f.District}
}

// validateForm checks v and turns the first failures into one readable message.
func validateForm(v any) error {
	err := formValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// parseMultipart bounds the request body and parses the multipart form.
// It writes the error response itself and reports whether parsing succeeded.
func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return false
	}
	return true
}

// readFile reads an uploaded file, refusing anything above constants.MaxImageBytes.
func readFile(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > constants.MaxImageBytes {
		return nil, ingest.ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, constants.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	if len(data) > constants.MaxImageBytes {
		return nil, ingest.ErrTooLarge
	}
	return data, nil
}
