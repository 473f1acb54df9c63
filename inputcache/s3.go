// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package inputcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/offchainlabs/blockproofs/cmd/genericconf"
	"github.com/offchainlabs/blockproofs/primitives"
)

type S3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type S3Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (n int64, err error)
}

// S3Store keeps program inputs as objects named
// <object-key>/<chain id>/<number>.bin.
type S3Store struct {
	config     genericconf.S3Config
	level      int
	uploader   S3Uploader
	downloader S3Downloader
}

func NewS3Store(config genericconf.S3Config, level int) *S3Store {
	client := config.NewS3Client()
	return NewS3StoreWith(config, level, manager.NewUploader(client), manager.NewDownloader(client))
}

func NewS3StoreWith(config genericconf.S3Config, level int, uploader S3Uploader, downloader S3Downloader) *S3Store {
	return &S3Store{config: config, level: level, uploader: uploader, downloader: downloader}
}

func (s *S3Store) key(chainID primitives.ChainID, number uint64) string {
	return path.Join(s.config.ObjectKey, objectName(chainID, number))
}

func (s *S3Store) Get(ctx context.Context, chainID primitives.ChainID, number uint64) (*primitives.ProgramInput, error) {
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.key(chainID, number)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decompress(buf.Bytes())
}

func (s *S3Store) Put(ctx context.Context, chainID primitives.ChainID, number uint64, input *primitives.ProgramInput) error {
	data, err := compress(input, s.level)
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.key(chainID, number)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *S3Store) String() string {
	return fmt.Sprintf("S3Store(bucket:%v prefix:%v)", s.config.Bucket, s.config.ObjectKey)
}
