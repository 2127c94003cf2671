package otel

import (
	"context"
	"reflect"
	"testing"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "directd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Metrics: true}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestParseHeaders(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "authorization=Bearer abc", map[string]string{"authorization": "Bearer abc"}},
		{"multiple with spaces", " a=1 , b = 2 ", map[string]string{"a": "1", "b": "2"}},
		{"skips malformed", "a=1,nope,=x", map[string]string{"a": "1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseHeaders(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
