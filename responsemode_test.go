package oauth

import (
	"net/url"
	"strings"
	"testing"
)

func TestBuildRedirectURI(t *testing.T) {
	tests := []struct {
		name        string
		redirectURI string
		mode        string
		params      map[string]string
		want        string
		wantErr     bool
	}{
		{
			name:        "query mode",
			redirectURI: "https://client.example.com/cb",
			mode:        ResponseModeQuery,
			params:      map[string]string{"code": "abc", "state": "xyz"},
			want:        "https://client.example.com/cb?code=abc&state=xyz",
		},
		{
			name:        "query mode preserves existing parameters",
			redirectURI: "https://client.example.com/cb?keep=1",
			mode:        ResponseModeQuery,
			params:      map[string]string{"code": "abc"},
			want:        "https://client.example.com/cb?code=abc&keep=1",
		},
		{
			name:        "fragment mode",
			redirectURI: "https://client.example.com/cb",
			mode:        ResponseModeFragment,
			params:      map[string]string{"access_token": "tok", "token_type": "Bearer"},
			want:        "https://client.example.com/cb#access_token=tok&token_type=Bearer",
		},
		{
			name:        "empty params leave the URI unchanged",
			redirectURI: "https://client.example.com/cb?keep=1",
			mode:        ResponseModeQuery,
			params:      nil,
			want:        "https://client.example.com/cb?keep=1",
		},
		{
			name:        "unknown mode",
			redirectURI: "https://client.example.com/cb",
			mode:        "form_post",
			params:      map[string]string{"code": "abc"},
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildRedirectURI(tt.redirectURI, tt.mode, tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildRedirectURI() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildRedirectURI() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildRedirectURIFragmentEncoding(t *testing.T) {
	got, err := BuildRedirectURI("https://client.example.com/cb", ResponseModeFragment,
		map[string]string{"scope": "read write"})
	if err != nil {
		t.Fatalf("BuildRedirectURI() error = %v", err)
	}

	_, frag, found := strings.Cut(got, "#")
	if !found {
		t.Fatalf("no fragment in %q", got)
	}
	values, err := url.ParseQuery(frag)
	if err != nil {
		t.Fatalf("fragment does not parse as a query: %v", err)
	}
	if values.Get("scope") != "read write" {
		t.Errorf("scope = %q, want %q", values.Get("scope"), "read write")
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"read", 1},
		{"read write", 2},
		{"  read   write  ", 2},
	}
	for _, tt := range tests {
		if got := ParseScope(tt.in); len(got) != tt.want {
			t.Errorf("ParseScope(%q) = %v, want %d elements", tt.in, got, tt.want)
		}
	}
}

func TestGrantedScope(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		available []string
		want      string
		wantErr   bool
	}{
		{"empty request takes available", nil, []string{"read", "write"}, "read write", false},
		{"subset granted", []string{"read"}, []string{"read", "write"}, "read", false},
		{"nil available is unrestricted", []string{"read"}, nil, "read", false},
		{"outside available rejected", []string{"admin"}, []string{"read"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, oerr := grantedScope(tt.requested, tt.available)
			if tt.wantErr {
				if oerr == nil {
					t.Fatal("expected an error")
				}
				if oerr.Code != ErrorCodeInvalidScope {
					t.Errorf("Code = %q, want %q", oerr.Code, ErrorCodeInvalidScope)
				}
				return
			}
			if oerr != nil {
				t.Fatalf("grantedScope() error = %v", oerr)
			}
			if JoinScope(got) != tt.want {
				t.Errorf("grantedScope() = %q, want %q", JoinScope(got), tt.want)
			}
		})
	}
}
