package validation

import (
	"errors"
	"testing"
)

type presignRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=image voice"`
	FileName    string `json:"fileName" validate:"required,max=200"`
	ContentType string `json:"contentType" validate:"required"`
}

type createRequest struct {
	ParticipantIDs []string `json:"participantIds" validate:"min=1,max=50,dive,required"`
}

func TestStructValid(t *testing.T) {
	err := Struct(&presignRequest{Kind: "image", FileName: "a.jpg", ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Struct() error = %v", err)
	}
}

func TestStructUsesJSONFieldNames(t *testing.T) {
	err := Struct(&presignRequest{Kind: "video", FileName: "a.mp4", ContentType: "video/mp4"})

	var verrs Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("error type = %T, want Errors", err)
	}
	first, ok := verrs.First()
	if !ok {
		t.Fatal("expected at least one field error")
	}
	if first.Field != "kind" {
		t.Errorf("Field = %q, want kind", first.Field)
	}
	if first.Message != "kind must be one of: image voice" {
		t.Errorf("Message = %q", first.Message)
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"required", &presignRequest{Kind: "image", ContentType: "x"}, "fileName is required"},
		{"slice min", &createRequest{}, "participantIds must contain at least 1 items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.want {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}
