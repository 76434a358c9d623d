package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

// ParseDeadline accepts RFC 3339 timestamps with an explicit offset and
// normalizes them to UTC.
func ParseDeadline(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("deadline %q is not an RFC 3339 timestamp", s), err)
	}
	return t.UTC(), nil
}

func requireFields(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"name", "description", "responsibility", "deadline", "userId"} {
		v, ok := fields[name]
		if ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return cerr.NewError(cerr.InvalidArgument, "missing required fields: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

func invalidTransition(msg string) error {
	return cerr.NewError(cerr.FailedPrecondition, msg, nil)
}
