package container

import (
	"errors"

	"github.com/blizzcasc/casc/blte"
	"github.com/blizzcasc/casc/buildinfo"
	"github.com/blizzcasc/casc/encoding"
	"github.com/blizzcasc/casc/index"
	"github.com/blizzcasc/casc/resolver"
	"github.com/blizzcasc/casc/shmem"
	"github.com/blizzcasc/casc/streamalloc"
)

// Kind is the closed taxonomy every error this module returns falls into,
// per §7. Each subsystem keeps its own concrete error type (so callers can
// still errors.As into the specific struct for its fields); Classify
// collapses that open set down to the seven kinds logs and metrics care
// about.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindIntegrity
	KindSignature
	KindUnsupportedEncoding
	KindParser
	KindNoFreeSpace
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindIntegrity:
		return "integrity"
	case KindSignature:
		return "signature"
	case KindUnsupportedEncoding:
		return "unsupported_encoding"
	case KindParser:
		return "parser"
	case KindNoFreeSpace:
		return "no_free_space"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Classify reports which Kind err falls into, unwrapping through any
// continuity.ErrArray chain to find the first concrete error type it
// recognizes. A nil error has no Kind; an unrecognized error type
// (including plain I/O errors from the standard library) classifies as
// KindIO, since every parser/lookup failure in this module has its own
// concrete type and whatever's left over came from the filesystem.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return KindNotFound
	}
	var sfnf *streamalloc.NotFoundError
	if errors.As(err, &sfnf) {
		return KindNotFound
	}
	var idxnf *index.NotFoundError
	if errors.As(err, &idxnf) {
		return KindNotFound
	}
	var encnf *encoding.NotFoundError
	if errors.As(err, &encnf) {
		return KindNotFound
	}
	var resnf *resolver.NotFoundError
	if errors.As(err, &resnf) {
		return KindNotFound
	}

	var upe *resolver.UnsupportedProgramError
	if errors.As(err, &upe) {
		return KindUnsupportedEncoding
	}
	var uee *blte.UnsupportedEncodingError
	if errors.As(err, &uee) {
		return KindUnsupportedEncoding
	}

	var bie *blte.IntegrityError
	if errors.As(err, &bie) {
		return KindIntegrity
	}
	var enie *encoding.IntegrityError
	if errors.As(err, &enie) {
		return KindIntegrity
	}
	var ixie *index.IntegrityError
	if errors.As(err, &ixie) {
		return KindIntegrity
	}

	var bse *blte.SignatureError
	if errors.As(err, &bse) {
		return KindSignature
	}
	var ense *encoding.SignatureError
	if errors.As(err, &ense) {
		return KindSignature
	}

	var bpe *blte.ParserError
	if errors.As(err, &bpe) {
		return KindParser
	}
	var enpe *encoding.ParserError
	if errors.As(err, &enpe) {
		return KindParser
	}
	var ixpe *index.ParserError
	if errors.As(err, &ixpe) {
		return KindParser
	}
	var shpe *shmem.ParserError
	if errors.As(err, &shpe) {
		return KindParser
	}
	var bipe *buildinfo.ParserError
	if errors.As(err, &bipe) {
		return KindParser
	}

	// KindNoFreeSpace is reserved for the free-space allocation path that a
	// write side would need; no read-only operation in this module produces
	// it, so there is nothing to errors.As against yet.

	return KindIO
}
