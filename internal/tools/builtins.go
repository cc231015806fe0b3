package tools

// BuiltinConfig wires the built-in tools to runtime services. Tools whose
// backing service is not configured are left unregistered, so the model
// never sees a capability it cannot use.
type BuiltinConfig struct {
	// Search credentials. At least one key enables search_web.
	SerpAPIKey   string
	TavilyAPIKey string

	// Images enables generate_image when non-nil. A renderer that also
	// satisfies ImageEditor enables generate_altered_image.
	Images ImageRenderer

	// WSLPath enables execute_wsl_command when non-empty. Resolve it
	// with LookupWSL.
	WSLPath string

	// WorkDir resolves the agent's current working directory at call
	// time. Nil falls back to the process cwd.
	WorkDir func() string
}

// RegisterBuiltins registers the built-in toolset on reg according to the
// available configuration.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	builtins := []Tool{
		NewListWorkingDirTool(cfg.WorkDir),
		NewPageHTMLTool(),
		NewPageTextTool(),
	}

	if cfg.SerpAPIKey != "" || cfg.TavilyAPIKey != "" {
		builtins = append(builtins, NewSearchTool(SearchConfig{
			SerpAPIKey:   cfg.SerpAPIKey,
			TavilyAPIKey: cfg.TavilyAPIKey,
		}))
	}
	if cfg.Images != nil {
		builtins = append(builtins, NewGenerateImageTool(cfg.Images, cfg.WorkDir))
		if editor, ok := cfg.Images.(ImageEditor); ok {
			builtins = append(builtins, NewAlterImageTool(editor, cfg.WorkDir))
		}
	}
	if cfg.WSLPath != "" {
		builtins = append(builtins, NewWSLTool(cfg.WSLPath))
	}

	for _, tool := range builtins {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
