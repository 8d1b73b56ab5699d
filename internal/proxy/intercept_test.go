package proxy

import (
	"testing"

	"github.com/die-net/transproxy/internal/bridge"
)

func TestParseIntercept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Intercept
		wantErr bool
	}{
		{in: "80=http", want: Intercept{Port: 80, ListenPort: 80, Dialect: bridge.HTTP}},
		{in: "443:8443=connect", want: Intercept{Port: 443, ListenPort: 8443, Dialect: bridge.Connect}},
		{in: " 25:2525=SOCKS5 ", want: Intercept{Port: 25, ListenPort: 2525, Dialect: bridge.SOCKS5}},
		{in: "80", wantErr: true},
		{in: "80=ftp", wantErr: true},
		{in: "0=http", wantErr: true},
		{in: "80:70000=http", wantErr: true},
		{in: "x:80=http", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseIntercept(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseIntercept(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIntercept(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseIntercept(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseInterceptsRejectsDuplicates(t *testing.T) {
	t.Parallel()

	if _, err := ParseIntercepts([]string{"80=http", "443=connect"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseIntercepts([]string{"80=http", "80:8080=connect"}); err == nil {
		t.Error("expected duplicate port error")
	}
	if _, err := ParseIntercepts([]string{"80:3000=http", "443:3000=connect"}); err == nil {
		t.Error("expected duplicate listen port error")
	}
}
