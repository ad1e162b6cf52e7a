package form

import (
	"errors"

	"github.com/spigell/autoapply/internal/dom"
)

func isNotFound(err error) bool {
	return errors.Is(err, dom.ErrNotFound)
}
