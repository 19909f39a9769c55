package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	maxFormBytes = 1 << 20
	maxBodyBytes = 1 << 20
)

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// OwnerForm identifies the end user and organization an OAuth flow belongs to.
type OwnerForm struct {
	UserID string `form:"user_id" validate:"required,max=256"`
	OrgID  string `form:"org_id" validate:"required,max=256"`
}

// CredentialsForm carries the credentials blob handed back by the front-end.
type CredentialsForm struct {
	Credentials string `form:"credentials" validate:"required,json"`
}

// decodeOwnerForm reads user_id and org_id from a urlencoded or multipart form.
func decodeOwnerForm(w http.ResponseWriter, r *http.Request) (OwnerForm, error) {
	if err := parseForm(w, r); err != nil {
		return OwnerForm{}, err
	}

	form := OwnerForm{
		UserID: r.PostFormValue("user_id"),
		OrgID:  r.PostFormValue("org_id"),
	}
	if err := validateStruct(form); err != nil {
		return OwnerForm{}, err
	}
	return form, nil
}

// decodeCredentials accepts the credentials either as a form field holding a
// JSON string or as a JSON body {"credentials": <string or object>}.
func decodeCredentials(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var form CredentialsForm
	if mediaType == "application/json" {
		var body struct {
			Credentials json.RawMessage `json:"credentials"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}

		var s string
		if err := json.Unmarshal(body.Credentials, &s); err == nil {
			form.Credentials = s
		} else {
			form.Credentials = string(body.Credentials)
		}
	} else {
		if err := parseForm(w, r); err != nil {
			return nil, err
		}
		form.Credentials = r.PostFormValue("credentials")
	}

	if err := validateStruct(form); err != nil {
		return nil, err
	}
	return []byte(form.Credentials), nil
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	err := r.ParseMultipartForm(maxFormBytes)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return fmt.Errorf("invalid form: %w", err)
	}
	return nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation error: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "json":
			msgs = append(msgs, fe.Field()+" must be valid JSON")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
