package dslog

import "time"

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
