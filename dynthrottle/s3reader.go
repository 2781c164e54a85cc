// Copyright 2016 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package dynthrottle

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3GetLister defines the portion of the S3 service required by S3Reader.
type S3GetLister interface {
	GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	ListObjectsPages(input *s3.ListObjectsInput, fn func(p *s3.ListObjectsOutput, lastPage bool) (shouldContinue bool)) error
}

// S3Reader reads a backup written to S3 by dyndump and exposes its parts
// as a single byte stream by implementing the io.Reader interface.
//
// Wrap it in a SimpleDecoder to read individual items.
type S3Reader struct {
	S3                 S3GetLister
	Bucket             string // Bucket is the name of the S3 Bucket to read from
	PathPrefix         string // PathPrefix is the prefix used to store the backup
	SkipIntegrityCheck bool   // Don't verify part hashes and counts

	r      *io.PipeReader
	w      *io.PipeWriter
	err    error
	m      sync.Mutex
	md     *Metadata
	closed bool
}

var errReaderClosed = errors.New("s3 reader closed")

// Metadata returns the backup's metadata information.
func (r *S3Reader) Metadata() (md *Metadata, err error) {
	r.m.Lock()
	defer r.m.Unlock()
	if r.md != nil {
		return r.md, nil
	}

	resp, err := r.S3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(s3MetaKey(r.PathPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	md = new(Metadata)
	if err := json.NewDecoder(resp.Body).Decode(md); err != nil {
		return nil, fmt.Errorf("invalid backup metadata: %w", err)
	}
	r.md = md
	return md, nil
}

// Read reads a block of data from the backup.
// It is not safe to call this concurrently from different goroutines.
func (r *S3Reader) Read(p []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	pr, err := r.pipe()
	if err != nil {
		r.err = err
		return 0, err
	}
	n, err = pr.Read(p)
	if err != nil {
		r.err = err
	}
	return n, err
}

// Close stops the transfer of any remaining parts.  It must be called if
// the caller stops reading before the end of the backup, and may be called
// concurrently with Read.
func (r *S3Reader) Close() error {
	r.m.Lock()
	defer r.m.Unlock()
	r.closed = true
	if r.r != nil {
		return r.r.CloseWithError(errReaderClosed)
	}
	return nil
}

func (r *S3Reader) pipe() (*io.PipeReader, error) {
	md, err := r.Metadata()
	if err != nil {
		return nil, err
	}
	r.m.Lock()
	defer r.m.Unlock()
	if r.closed {
		return nil, io.ErrClosedPipe
	}
	if r.r == nil {
		r.r, r.w = io.Pipe()
		go r.reader(md)
	}
	return r.r, nil
}

// reader is a goroutine started by Read that pulls all of the individual
// backup objects from S3 and sends their data into one half of a pipe
// for aggregate reads by Read.
func (r *S3Reader) reader(md *Metadata) {
	var failed error
	partHash := sha256.New()
	aggHash := sha256.New() // hash of hashes
	target := io.MultiWriter(r.w, partHash)

	req := &s3.ListObjectsInput{
		Bucket: aws.String(r.Bucket),
		Prefix: aws.String(s3PartPrefix(r.PathPrefix)),
	}
	var partCount int
	err := r.S3.ListObjectsPages(req, func(page *s3.ListObjectsOutput, lastPage bool) bool {
		for _, obj := range page.Contents {
			if failed = r.copyPart(target, obj.Key, partHash, aggHash); failed != nil {
				return false
			}
			partCount++
		}
		return true
	})

	switch {
	case failed != nil:
		r.w.CloseWithError(failed)

	case err != nil:
		r.w.CloseWithError(err)

	case r.SkipIntegrityCheck:
		r.w.Close()

	case md.PartCount > 0 && partCount != md.PartCount:
		r.w.CloseWithError(fmt.Errorf("incomplete backup; expected %d parts, found %d",
			md.PartCount, partCount))

	case md.Hash != "" && md.LastHashed == md.PartCount && fmt.Sprintf("%x", aggHash.Sum(nil)) != md.Hash:
		r.w.CloseWithError(fmt.Errorf("corrupt backup; expected final hash of %s, got %x",
			md.Hash, aggHash.Sum(nil)))

	default:
		r.w.Close()
	}
}

func (r *S3Reader) copyPart(target io.Writer, key *string, partHash hash.Hash, aggHash io.Writer) error {
	resp, err := r.S3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    key,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(target, resp.Body); err != nil {
		return err
	}

	defer partHash.Reset()

	if metahash := aws.StringValue(resp.Metadata[metaSha256]); metahash != "" {
		hstr := fmt.Sprintf("%x", partHash.Sum(nil))
		if hstr != metahash && !r.SkipIntegrityCheck {
			return fmt.Errorf("part %s hash mismatch expected=%s actual=%s",
				aws.StringValue(key), metahash, hstr)
		}
		fmt.Fprintln(aggHash, hstr)
	}
	return nil
}
