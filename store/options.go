package store

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Option configures a backend.
type Option func(*settings) error

type settings struct {
	lenient     bool
	collections []string
	logger      logrus.FieldLogger
}

func newSettings(opts []Option) (settings, error) {
	s := settings{logger: discardLogger()}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return settings{}, err
		}
	}
	return s, nil
}

// WithLenientLoad makes a missing or unparsable collection document load as an
// empty collection instead of failing with ErrIO. Data in such a document
// becomes invisible and is overwritten by the next save, so this is only meant
// for compatibility with stores that were written without care.
func WithLenientLoad(lenient bool) Option {
	return func(s *settings) error {
		s.lenient = lenient
		return nil
	}
}

// WithCollections names the collections a FileStore creates empty on open.
func WithCollections(names ...string) Option {
	return func(s *settings) error {
		for _, n := range names {
			if n == "" {
				return ErrEmptyCollection
			}
		}
		s.collections = append(s.collections, names...)
		return nil
	}
}

// WithLogger sets the logger for migrations and load anomalies. A nil logger
// keeps the default, which discards output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *settings) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
