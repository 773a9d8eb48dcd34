package scanner

import "fmt"

// Bucket classifies the outcome of scanning one file.
type Bucket int

// Buckets in report order.
const (
	Generated Bucket = iota
	AlreadyExists
	NotFound
	Skipped
	Failed
	numBuckets
)

var bucketNames = [numBuckets]string{
	Generated:     "generated",
	AlreadyExists: "already exists",
	NotFound:      "not found",
	Skipped:       "skipped",
	Failed:        "error",
}

func (b Bucket) String() string {
	if b < 0 || b >= numBuckets {
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
	return bucketNames[b]
}

// Item is the outcome for a single input file.
type Item struct {
	File    string
	Bucket  Bucket
	Message string
	// Output is the cross-seed torrent path when one was generated or found.
	Output string
}

// Report accumulates scan outcomes in the order the files were scanned.
type Report struct {
	Items []Item
}

// Summary holds the per-bucket counts of a Report.
type Summary struct {
	Generated     int `structs:"generated"`
	AlreadyExists int `structs:"already exists"`
	NotFound      int `structs:"not found"`
	Skipped       int `structs:"skipped"`
	Errors        int `structs:"errors"`
}

// Add appends an item.
func (r *Report) Add(it Item) {
	r.Items = append(r.Items, it)
}

// Count returns the number of items in bucket b.
func (r *Report) Count(b Bucket) int {
	n := 0
	for _, it := range r.Items {
		if it.Bucket == b {
			n++
		}
	}
	return n
}

// Messages returns the messages of bucket b in scan order.
func (r *Report) Messages(b Bucket) []string {
	var ret []string
	for _, it := range r.Items {
		if it.Bucket == b {
			ret = append(ret, it.Message)
		}
	}
	return ret
}

// Summary returns the counts of all buckets.
func (r *Report) Summary() Summary {
	return Summary{
		Generated:     r.Count(Generated),
		AlreadyExists: r.Count(AlreadyExists),
		NotFound:      r.Count(NotFound),
		Skipped:       r.Count(Skipped),
		Errors:        r.Count(Failed),
	}
}
