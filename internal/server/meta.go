package server

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/operantlabs/operant/internal/agent/providers"
	"github.com/operantlabs/operant/internal/config"
	"github.com/operantlabs/operant/internal/tools"
)

// redactedValue replaces secrets in config reads. A PATCH that echoes it
// back keeps the stored value.
const redactedValue = "[redacted]"

type providerDetail struct {
	providers.Detail
	Configured bool `json:"configured"`
}

type modelEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Provider    string `json:"provider"`
	ContextSize int    `json:"context_size,omitempty"`
}

type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// handleModels serves GET /v1/models: the hosting provider catalog with
// per-provider credential status.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	catalog := providers.Catalog()
	details := make([]providerDetail, 0, len(catalog))
	for _, detail := range catalog {
		configured := true
		for _, key := range detail.RequiredCredentials {
			if !s.creds.Has(key) {
				configured = false
				break
			}
		}
		details = append(details, providerDetail{Detail: detail, Configured: configured})
	}

	respond(w, http.StatusOK, "Providers retrieved successfully", map[string]any{
		"providers": details,
	})
}

// handleModelsByProvider serves GET /v1/models/{provider}.
func (s *Server) handleModelsByProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	hosting := strings.TrimPrefix(r.URL.Path, "/v1/models/")
	catalog, err := providers.CatalogModels(hosting)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	entries := make([]modelEntry, 0, len(catalog))
	for _, model := range catalog {
		entries = append(entries, modelEntry{
			ID:          model.ID,
			Name:        model.Name,
			Provider:    hosting,
			ContextSize: model.ContextSize,
		})
	}

	respond(w, http.StatusOK, "Models retrieved successfully", map[string]any{
		"models": entries,
	})
}

// handleTools serves GET /v1/tools: the tool registry as the current
// credentials shape it.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	reg := tools.NewRegistry()
	builtin := tools.BuiltinConfig{
		SerpAPIKey:   s.creds.Get(config.CredSerpAPI),
		TavilyAPIKey: s.creds.Get(config.CredTavily),
	}
	if s.creds.Has(config.CredOpenAI) {
		if provider, err := providers.New(providers.HostingOpenAI, s.creds); err == nil {
			if renderer, ok := provider.(tools.ImageRenderer); ok {
				builtin.Images = renderer
			}
		}
	}
	if err := tools.RegisterBuiltins(reg, builtin); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	list := reg.List()
	descriptors := make([]toolDescriptor, 0, len(list))
	for _, tool := range list {
		descriptors = append(descriptors, toolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}

	respond(w, http.StatusOK, "Tools retrieved successfully", map[string]any{
		"tools": descriptors,
	})
}

// handleConfig serves GET and PATCH /v1/config.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snapshot := s.snapshot()
		redactConfig(&snapshot)
		respond(w, http.StatusOK, "Configuration retrieved successfully", map[string]any{
			"version": s.version,
			"path":    s.configPath,
			"values":  snapshot,
		})
	case http.MethodPatch, http.MethodPut:
		s.applyConfig(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// applyConfig merges the request body over the live configuration,
// validates, persists, and swaps it in. Fields the running subsystems
// already captured are reported as restart warnings.
func (s *Server) applyConfig(w http.ResponseWriter, r *http.Request) {
	s.confMu.Lock()
	defer s.confMu.Unlock()

	next := *s.conf
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if next.Auth.Secret == redactedValue {
		next.Auth.Secret = s.conf.Auth.Secret
	}
	if err := next.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	warnings := configRestartWarnings(s.conf, &next)
	if s.configPath != "" {
		if err := next.Save(s.configPath); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to save configuration: "+err.Error())
			return
		}
	}
	s.conf = &next

	for _, warning := range warnings {
		s.log.Warn(warning)
	}

	redacted := next
	redactConfig(&redacted)
	respond(w, http.StatusOK, "Configuration updated successfully", map[string]any{
		"values":           redacted,
		"restart_required": warnings,
	})
}

// handleConfigSchema serves the generated JSON Schema of the config file.
func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	schema, err := config.JSONSchema()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(schema) //nolint:errcheck
}

// handleCredentials serves GET (keys only) and PATCH /v1/credentials.
func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respond(w, http.StatusOK, "Credentials retrieved successfully", map[string]any{
			"keys": s.creds.Keys(),
		})
	case http.MethodPatch, http.MethodPut:
		var update struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := decodeJSON(r, &update); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		if strings.TrimSpace(update.Key) == "" {
			respondError(w, http.StatusBadRequest, "Credential key is required")
			return
		}
		if err := s.creds.Set(update.Key, update.Value); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respond(w, http.StatusOK, "Credential updated successfully", nil)
	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// redactConfig blanks values that must not leave the process.
func redactConfig(cfg *config.Config) {
	if cfg.Auth.Secret != "" {
		cfg.Auth.Secret = redactedValue
	}
}

// configRestartWarnings reports config sections that running subsystems
// captured at startup and cannot re-read live.
func configRestartWarnings(current, next *config.Config) []string {
	warnings := []string{}
	sections := []struct {
		name     string
		old, new any
	}{
		{"server", current.Server, next.Server},
		{"auth", current.Auth, next.Auth},
		{"jobs", current.Jobs, next.Jobs},
		{"tracing", current.Tracing, next.Tracing},
		{"usage", current.Usage, next.Usage},
		{"logging", current.Logging, next.Logging},
	}
	for _, section := range sections {
		if !reflect.DeepEqual(section.old, section.new) {
			warnings = append(warnings, section.name+" configuration changed; restart required")
		}
	}
	return warnings
}
