package main

// Exit codes
const (
	ExitSuccess      = 0 // Success
	ExitError        = 1 // General error (invalid arguments, runtime failure)
	ExitInputError   = 2 // Missing or invalid input (audio dir, model, audio file, index)
	ExitNoAudio      = 3 // Corpus holds no recognized audio files
	ExitCapability   = 4 // Model embed capability cannot be resolved
	ExitEmptyIndex   = 5 // Every corpus file was skipped
	ExitIndexStale   = 6 // Index does not match the corpus
)
