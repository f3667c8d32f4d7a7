package store

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/segmentio/ksuid"
)

const checkpointIDPrefix = "ckpt_"

const alphanumeric = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewCheckpointID returns a K-sortable checkpoint ID. The KSUID body carries a
// second-resolution timestamp followed by 128 random bits.
func NewCheckpointID() string {
	return checkpointIDPrefix + ksuid.New().String()
}

// NewLegacyMessageID returns an ID for history supplied without one, in the
// form legacy_<unix millis>_<8 random alphanumerics>.
func NewLegacyMessageID(now time.Time) string {
	return fmt.Sprintf("legacy_%d_%s", now.UnixMilli(), randomAlphanumeric(8))
}

func randomAlphanumeric(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("store: read random: %v", err))
		}
		buf[i] = alphanumeric[idx.Int64()]
	}
	return string(buf)
}
