package core

// AudioContext owns an analyser graph. Close releases every analyser it created.
type AudioContext interface {
	NewAnalyser(t Track) (AudioAnalyser, error)
	Close() error
}

// AudioAnalyser exposes the latest frequency-domain magnitudes of one track.
type AudioAnalyser interface {
	// ByteFrequencyData fills buf with magnitudes in [0,255] and returns how many were written.
	ByteFrequencyData(buf []byte) int
	Close()
}

type AudioContextFactory func() (AudioContext, error)
