package message

import (
	"errors"
	"net/http"
	"testing"
)

func TestProperties_Bool(t *testing.T) {
	tests := []struct {
		name    string
		props   Properties
		want    bool
		wantErr error
		typeErr bool
	}{
		{name: "missing", props: Properties{}, wantErr: ErrPropertyNotFound},
		{name: "nil value", props: Properties{"k": nil}, wantErr: ErrPropertyNotFound},
		{name: "true", props: Properties{"k": true}, want: true},
		{name: "false", props: Properties{"k": false}, want: false},
		{name: "string true", props: Properties{"k": "true"}, want: true},
		{name: "string false", props: Properties{"k": "false"}, want: false},
		{name: "garbage string", props: Properties{"k": "maybe"}, typeErr: true},
		{name: "wrong type", props: Properties{"k": 1}, typeErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.props.Bool("k")
			if tt.typeErr {
				var pte *PropertyTypeError
				if !errors.As(err, &pte) {
					t.Fatalf("err = %v, want *PropertyTypeError", err)
				}
				if pte.Key != "k" {
					t.Errorf("Key = %q, want %q", pte.Key, "k")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProperties_Header(t *testing.T) {
	t.Run("http.Header", func(t *testing.T) {
		h := http.Header{}
		h.Set("Content-Type", "text/xml")
		p := Properties{PropTransportHeaders: h}

		got, err := p.TransportHeaders()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Get("Content-Type") != "text/xml" {
			t.Errorf("Content-Type = %q", got.Get("Content-Type"))
		}
	})

	t.Run("string map is converted", func(t *testing.T) {
		p := Properties{PropTransportHeaders: map[string]string{"soapaction": "urn:a"}}

		got, err := p.TransportHeaders()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Get("SOAPAction") != "urn:a" {
			t.Errorf("SOAPAction = %q", got.Get("SOAPAction"))
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Properties{}.TransportHeaders()
		if !errors.Is(err, ErrPropertyNotFound) {
			t.Errorf("err = %v, want ErrPropertyNotFound", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Properties{PropTransportHeaders: []string{"x"}}.TransportHeaders()
		var pte *PropertyTypeError
		if !errors.As(err, &pte) {
			t.Errorf("err = %v, want *PropertyTypeError", err)
		}
	})
}

func TestProperties_String(t *testing.T) {
	p := Properties{PropContentType: "text/xml", "n": 3}

	if ct, err := p.ContentType(); err != nil || ct != "text/xml" {
		t.Errorf("ContentType() = %q, %v", ct, err)
	}
	if _, err := p.String("n"); err == nil {
		t.Error("expected type error")
	}
	if _, err := p.Action(); !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("Action() err = %v, want ErrPropertyNotFound", err)
	}
}
