package config

import "testing"

// ── ParseGatewaySpec ─────────────────────────────────────────────────

func TestParseGatewaySpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseGatewaySpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

// ── Config.Validate ──────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid default-shaped config",
			cfg:     Config{Port: 2504, ControllerURL: "http://127.0.0.1:3480"},
			wantErr: false,
		},
		{
			name:    "invalid port zero",
			cfg:     Config{Port: 0, ControllerURL: "http://x"},
			wantErr: true,
		},
		{
			name:    "invalid port too large",
			cfg:     Config{Port: 70000, ControllerURL: "http://x"},
			wantErr: true,
		},
		{
			name:    "empty controller URL",
			cfg:     Config{Port: 2504, ControllerURL: ""},
			wantErr: true,
		},
		{
			name: "direct listener bad port",
			cfg: Config{
				Port:            2504,
				ControllerURL:   "http://x",
				DirectListeners: map[int]string{0: "CONN 127.0.0.1:23"},
			},
			wantErr: true,
		},
		{
			name: "direct listener empty CONN line",
			cfg: Config{
				Port:            2504,
				ControllerURL:   "http://x",
				DirectListeners: map[int]string{3000: ""},
			},
			wantErr: true,
		},
		{
			name: "valid direct listener",
			cfg: Config{
				Port:            2504,
				ControllerURL:   "http://x",
				DirectListeners: map[int]string{3000: "CONN 127.0.0.1:23"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

// ── ResolveVia ───────────────────────────────────────────────────────

func TestResolveVia(t *testing.T) {
	cfg := &Config{ViaAliases: map[string]string{"bastion": "admin@bastion.example.com:2222"}}

	if got := cfg.ResolveVia("bastion"); got != "admin@bastion.example.com:2222" {
		t.Errorf("ResolveVia(alias) = %q", got)
	}
	if got := cfg.ResolveVia("literal@host:22"); got != "literal@host:22" {
		t.Errorf("ResolveVia(literal) = %q, want unchanged", got)
	}
}

// ── Default ──────────────────────────────────────────────────────────

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.BindAddr != DefaultBindAddr {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, DefaultBindAddr)
	}
	if cfg.ControllerURL != DefaultControllerURL {
		t.Errorf("ControllerURL = %q, want %q", cfg.ControllerURL, DefaultControllerURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() should validate cleanly: %v", err)
	}
}
