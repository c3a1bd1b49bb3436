package engine

import (
	"errors"

	"github.com/ivlev/textoverlay/internal/source"
	"github.com/ivlev/textoverlay/internal/video"
)

// Export failure taxonomy. MetadataUnavailable and UnsupportedContainer are
// recovered and only logged; the other two fail the session.
var (
	ErrMetadataUnavailable  = errors.New("source dimensions unavailable")
	ErrUnsupportedContainer = video.ErrUnsupportedContainer
	ErrPlaybackStart        = source.ErrPlaybackStart
	ErrRecorderFault        = video.ErrRecorderFault

	ErrExportInProgress = errors.New("export already in progress")
	ErrInvalidState     = errors.New("invalid state transition")
)
