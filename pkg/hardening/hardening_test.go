package hardening

import "testing"

func TestValidateProduction(t *testing.T) {
	base := Options{
		Service:            "aclgate",
		Environment:        "production",
		StrictProdSecurity: "true",
		PolicyURL:          "https://policy.internal:8181",
		RedisAddr:          "redis:6379",
		RedisRequireTLS:    "true",
		CORSAllowedOrigins: "https://console.example.com",
		RequiredSecrets:    []EnvRequirement{{Name: "AEGIS_POLICY_TOKEN", Value: "secret"}},
	}

	t.Run("pass", func(t *testing.T) {
		if err := ValidateProduction(base); err != nil {
			t.Fatalf("expected pass, got %v", err)
		}
	})

	t.Run("non_prod_skip", func(t *testing.T) {
		o := base
		o.Environment = "development"
		o.PolicyURL = ""
		o.CORSAllowedOrigins = "*"
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("expected skip in non-production, got %v", err)
		}
	})

	t.Run("strict_can_be_disabled", func(t *testing.T) {
		o := base
		o.StrictProdSecurity = "false"
		o.PolicyURL = ""
		o.CORSAllowedOrigins = "*"
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("expected strict disable skip, got %v", err)
		}
	})

	t.Run("simulation_forbidden", func(t *testing.T) {
		o := base
		o.PolicyURL = ""
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected simulation-mode rejection")
		}
	})

	t.Run("plaintext_policy_url_forbidden", func(t *testing.T) {
		o := base
		o.PolicyURL = "http://policy.internal:8181"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected https policy URL error")
		}
	})

	t.Run("redis_tls_required", func(t *testing.T) {
		o := base
		o.RedisRequireTLS = "false"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected redis TLS enforcement error")
		}
	})

	t.Run("no_redis_skips_tls_check", func(t *testing.T) {
		o := base
		o.RedisAddr = ""
		o.RedisRequireTLS = ""
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("expected pass without shared cache, got %v", err)
		}
	})

	t.Run("cors_wildcard_forbidden", func(t *testing.T) {
		o := base
		o.CORSAllowedOrigins = "*"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected wildcard CORS error")
		}
	})

	t.Run("cors_localhost_forbidden", func(t *testing.T) {
		o := base
		o.CORSAllowedOrigins = "http://localhost:3000"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected localhost CORS error")
		}
	})

	t.Run("cors_https_required", func(t *testing.T) {
		o := base
		o.CORSAllowedOrigins = "http://console.example.com"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected https CORS error")
		}
	})

	t.Run("cors_empty_forbidden", func(t *testing.T) {
		o := base
		o.CORSAllowedOrigins = " , "
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected explicit origin error")
		}
	})

	t.Run("required_secret", func(t *testing.T) {
		o := base
		o.RequiredSecrets = []EnvRequirement{{Name: "AEGIS_POLICY_TOKEN", Value: ""}}
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected required secret error")
		}
		o.RequiredSecrets = []EnvRequirement{{Name: "", Value: ""}}
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("blank requirement names must be skipped, got %v", err)
		}
	})
}
