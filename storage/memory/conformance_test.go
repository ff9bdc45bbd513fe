package memory

import (
	"testing"

	"github.com/mihaimyh/goonboard/pkg/onboarding"
	"github.com/mihaimyh/goonboard/storage/storagetest"
)

func TestStorage_Conformance(t *testing.T) {
	storagetest.Run(t, func(*testing.T) onboarding.Storage { return New() })
}
