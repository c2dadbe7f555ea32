package config

const (
	defaultStateDir   = "~/.local/share/recite"
	defaultLogDir     = "~/.local/share/recite/logs"
	defaultStorageDir = "~/.local/share/recite/objects"
	defaultAPIBind    = "127.0.0.1:7496"

	defaultSampleRate      = 44100
	defaultFramesPerBuffer = 1024

	defaultNudgeStepMs   = 10
	defaultRescanSeconds = 1

	defaultUploadTimeout = 60
	defaultProbeTimeout  = 5

	defaultDraftScope      = "readalong"
	defaultDraftDebounceMs = 120

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			StorageDir: defaultStorageDir,
			APIBind:    defaultAPIBind,
		},
		Capture: Capture{
			Enabled:         true,
			SampleRate:      defaultSampleRate,
			FramesPerBuffer: defaultFramesPerBuffer,
			Formats:         []string{"float32", "int16"},
			Compressor:      true,
			// Inserting the compressor between the mic and the sink is known
			// to corrupt capture on darwin; record the raw track there.
			CompressorBypass: []string{"darwin"},
		},
		Controller: Controller{
			Enabled:        true,
			DevicePatterns: []string{"Launchkey", "nanoKONTROL"},
			MarkNotes:      []int{36, 48},
			UndoNotes:      []int{37, 49},
			NudgeCC:        21,
			NudgeStepMs:    defaultNudgeStepMs,
			RescanSeconds:  defaultRescanSeconds,
		},
		Upload: Upload{
			Direct:         true,
			TimeoutSeconds: defaultUploadTimeout,
		},
		Drafts: Drafts{
			Scope:      defaultDraftScope,
			DebounceMs: defaultDraftDebounceMs,
		},
		Server: Server{
			ProbeTimeoutSeconds: defaultProbeTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
