// Package index implements the CASC per-bucket key→location map: parsing
// one bucket's .idx file, routing keys to their owning bucket, and
// aggregating all 16 buckets into one lookup surface.
package index

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/blizzcasc/casc/hexid"
)

var log = logging.Logger("casc/index")

// NumBuckets is the number of disjoint partitions the 9-byte key space is
// routed into; one .idx file owns each.
const NumBuckets = 16

// Reference is a pointer into physical storage: the bucket-owning key, the
// data.NNN file it lives in, the byte offset of its BLTE frame header
// within that file, and the on-disk record length.
//
// With a 1 GiB local offset taking the low 30 bits of a packed location and
// the file index occupying the bits above that, the trade-off is between
// larger per-file sizes and more files addressable, for the same overall
// packed width; segment_bits is read from each .idx file's header rather
// than assumed, so this trade-off is a per-archive parameter, not a
// compile-time constant.
type Reference struct {
	Key    hexid.ID
	File   int
	Offset int64
	Size   int64
}

// PackLocation combines a file index and an in-file byte offset into the
// single packed integer an .idx record's location field stores, per §3's
// Reference packing: the low segmentBits bits hold offset, the remaining
// high bits hold file.
func PackLocation(file int, offset int64, segmentBits uint) uint64 {
	return uint64(file)<<segmentBits | (uint64(offset) & (uint64(1)<<segmentBits - 1))
}

// UnpackLocation splits a packed location field back into its file index
// and in-file offset, the inverse of PackLocation.
func UnpackLocation(packed uint64, segmentBits uint) (file int, offset int64) {
	mask := uint64(1)<<segmentBits - 1
	return int(packed >> segmentBits), int64(packed & mask)
}

// Bucket returns the 0..15 bucket id a key is routed to: XOR every leading
// byte of the key except the last, then fold the result's nibbles.
func Bucket(key []byte) int {
	var x byte
	for i := 0; i < len(key)-1; i++ {
		x ^= key[i]
	}
	return int((x & 0xF) ^ (x >> 4))
}

// NotFoundError reports a key absent from every bucket searched.
type NotFoundError struct {
	Key hexid.ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("index: key not found: %s", e.Key)
}

// Index aggregates every loaded bucket's records behind one Find call.
type Index struct {
	buckets [NumBuckets]map[string]Reference
}

// New returns an empty Index ready to have buckets loaded into it.
func New() *Index {
	return &Index{}
}

// LoadBucket parses one bucket's raw .idx file bytes and merges its
// records in. Loading the same bucket twice replaces its prior contents.
func (idx *Index) LoadBucket(bucketID int, raw []byte) error {
	if bucketID < 0 || bucketID >= NumBuckets {
		return fmt.Errorf("index: bucket id %d out of range", bucketID)
	}
	bf, err := parseBucketFile(raw)
	if err != nil {
		return err
	}
	if int(bf.header.bucket) != bucketID {
		log.Warnw("bucket file header disagrees with its routed bucket id", "header_bucket", bf.header.bucket, "routed_bucket", bucketID)
	}

	m := make(map[string]Reference, len(bf.records))
	for _, rec := range bf.records {
		m[string(rec.Key.Bytes())] = rec
	}
	idx.buckets[bucketID] = m
	return nil
}

// Find returns the Reference stored for key. The owning bucket (per
// Bucket) is tried first; on a miss every other loaded bucket is also
// searched before returning NotFoundError, matching the defensive
// scan-until-exhausted policy in the face of a routed bucket that turns
// out to be stale or not yet loaded.
func (idx *Index) Find(key hexid.ID) (Reference, error) {
	kb := key.Bytes()
	primary := Bucket(kb)
	if ref, ok := idx.lookupBucket(primary, kb); ok {
		return ref, nil
	}
	for b := 0; b < NumBuckets; b++ {
		if b == primary {
			continue
		}
		if ref, ok := idx.lookupBucket(b, kb); ok {
			return ref, nil
		}
	}
	return Reference{}, &NotFoundError{Key: key}
}

func (idx *Index) lookupBucket(bucketID int, keyBytes []byte) (Reference, bool) {
	m := idx.buckets[bucketID]
	if m == nil {
		return Reference{}, false
	}
	ref, ok := m[string(keyBytes)]
	return ref, ok
}

// Len returns the total number of records across every loaded bucket.
func (idx *Index) Len() int {
	n := 0
	for _, m := range idx.buckets {
		n += len(m)
	}
	return n
}

// BucketLen returns the number of records loaded for one bucket.
func (idx *Index) BucketLen(bucketID int) int {
	if bucketID < 0 || bucketID >= NumBuckets {
		return 0
	}
	return len(idx.buckets[bucketID])
}

// Iterator walks every Reference across every loaded bucket, in no
// particular order. The Index is read-only after construction, so an
// Iterator observes a stable snapshot.
type Iterator struct {
	idx        *Index
	bucket     int
	keys       []string
	pos        int
	total, seen int
}

// NewIterator returns an Iterator over every record currently loaded.
func (idx *Index) NewIterator() *Iterator {
	return &Iterator{idx: idx, bucket: -1, total: idx.Len()}
}

// Next returns the next Reference, or done=true once every bucket is
// exhausted.
func (it *Iterator) Next() (ref Reference, done bool) {
	for it.pos >= len(it.keys) {
		it.bucket++
		if it.bucket >= NumBuckets {
			return Reference{}, true
		}
		it.keys = it.keys[:0]
		for k := range it.idx.buckets[it.bucket] {
			it.keys = append(it.keys, k)
		}
		it.pos = 0
	}
	k := it.keys[it.pos]
	it.pos++
	it.seen++
	return it.idx.buckets[it.bucket][k], false
}

// Progress returns the fraction of records visited so far, in [0, 1].
func (it *Iterator) Progress() float64 {
	if it.total == 0 {
		return 1
	}
	return float64(it.seen) / float64(it.total)
}
