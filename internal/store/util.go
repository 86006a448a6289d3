package store

import "strconv"

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func parseInt(s string, out *int64) (int, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	*out = v
	return len(s), nil
}
