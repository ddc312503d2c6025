package haltty

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

// archiveHook uploads a recorded transcript to S3 once Close tears the
// session down, following the teacher's saveFileHandler/s3manager.Uploader
// pattern (main.go). It is an optional post-close hook, never a core
// operation: a failed upload is reported to the caller's logger and
// returned by Close (unless Close has an earlier error to return), never a
// panic.
type archiveHook struct {
	bucket  string
	prefix  string
	path    string
	awsSess *session.Session
}

func newArchiveHook(bucket, prefix, path string, awsSess *session.Session) *archiveHook {
	return &archiveHook{bucket: bucket, prefix: prefix, path: path, awsSess: awsSess}
}

func (h *archiveHook) upload() error {
	if h == nil {
		return nil
	}
	file, err := os.Open(h.path)
	if err != nil {
		return errors.Wrapf(err, "haltty: archive: open recorded transcript %s", h.path)
	}
	defer file.Close()

	key := fmt.Sprintf("%s/%s", h.prefix, filepath.Base(h.path))
	uploader := s3manager.NewUploaderWithClient(s3.New(h.awsSess, aws.NewConfig()))
	_, err = uploader.Upload(&s3manager.UploadInput{
		Bucket:               aws.String(h.bucket),
		ACL:                  aws.String("private"),
		Key:                  aws.String(key),
		ServerSideEncryption: aws.String("AES256"),
		Body:                 file,
	})
	if err != nil {
		return errors.Wrapf(err, "haltty: archive: upload %s to s3://%s/%s", h.path, h.bucket, key)
	}
	return nil
}
