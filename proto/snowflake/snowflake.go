package snowflake

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
)

var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NodeID identifies this process among relay nodes sharing one database.
// It must be set before the first call to New.
var NodeID int64

var SeqCounter uint64

var (
	nodeOnce sync.Once
	node     *snowflake.Node
	nodeErr  error
)

func defaultNode() (*snowflake.Node, error) {
	nodeOnce.Do(func() {
		snowflake.Epoch = Epoch.UnixNano() / int64(time.Millisecond)
		node, nodeErr = snowflake.NewNode(NodeID)
	})
	return node, nodeErr
}

func timeShift() uint8 { return snowflake.NodeBits + snowflake.StepBits }

// Snowflake is a time-ordered 64-bit identifier rendered as a
// 13-character base36 string.
type Snowflake uint64

func New() (Snowflake, error) {
	n, err := defaultNode()
	if err != nil {
		return Snowflake(0), fmt.Errorf("snowflake node: %w", err)
	}
	return Snowflake(n.Generate().Int64()), nil
}

func NewFromTime(t time.Time) Snowflake {
	timestampMillis := (t.UnixNano() - Epoch.UnixNano()) / int64(time.Millisecond)
	seqID := atomic.AddUint64(&SeqCounter, 1)
	seqMask := uint64(1)<<snowflake.StepBits - 1

	return Snowflake(
		(uint64(timestampMillis) << timeShift()) |
			(uint64(NodeID) << snowflake.StepBits) |
			(seqID & seqMask))
}

func NewFromString(s string) (Snowflake, error) {
	snowflake, err := strconv.ParseUint(s, 36, 64)
	if err != nil {
		return Snowflake(0), err
	}
	return Snowflake(snowflake), nil
}

func (s Snowflake) String() string {
	if s == 0 {
		return ""
	}
	return fmt.Sprintf("%013s", strconv.FormatUint(uint64(s), 36))
}


func (s *Snowflake) FromString(str string) error {
	if str == "" {
		*s = 0
		return nil
	}

	i, err := strconv.ParseUint(str, 36, 64)
	if err != nil {
		return err
	}

	*s = Snowflake(i)
	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	return s.FromString(str)
}

func (s Snowflake) Time() time.Time {
	timestampMillis := uint64(s) >> timeShift()
	return Epoch.Add(time.Duration(timestampMillis) * time.Millisecond)
}

func (s Snowflake) IsZero() bool                    { return s == 0 }
func (s Snowflake) Before(reference Snowflake) bool { return s < reference }
