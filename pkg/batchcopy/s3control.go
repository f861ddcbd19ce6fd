// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package batchcopy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/aws/aws-sdk-go-v2/service/s3control/types"
	"github.com/google/uuid"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/common"
)

// S3ControlClient is the subset of the S3 Control API used by the copier.
type S3ControlClient interface {
	CreateJob(ctx context.Context, params *s3control.CreateJobInput, optFns ...func(*s3control.Options)) (*s3control.CreateJobOutput, error)
	DescribeJob(ctx context.Context, params *s3control.DescribeJobInput, optFns ...func(*s3control.Options)) (*s3control.DescribeJobOutput, error)
}

// S3BatchCopier submits S3 Batch Operations copy jobs from persisted
// manifests. The job engine reads the manifest CSV directly from the central
// bucket; completion reports land under the report prefix.
type S3BatchCopier struct {
	api           S3ControlClient
	central       common.Storage
	accountID     string
	centralBucket string
	reportPrefix  string
	priority      int32
	logger        adapters.Logger
}

// S3BatchConfig configures an S3BatchCopier.
type S3BatchConfig struct {
	AccountID     string
	CentralBucket string
	Region        string
	ReportPrefix  string
	Priority      int32

	// Central resolves manifest object metadata (the job engine requires the
	// manifest's etag at submission time).
	Central common.Storage

	Logger adapters.Logger
}

// NewS3BatchCopier builds a copier over a real S3 Control client.
func NewS3BatchCopier(ctx context.Context, cfg S3BatchConfig) (*S3BatchCopier, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return NewS3BatchCopierWithClient(s3control.NewFromConfig(awsCfg), cfg)
}

// NewS3BatchCopierWithClient builds a copier over an existing client.
func NewS3BatchCopierWithClient(api S3ControlClient, cfg S3BatchConfig) (*S3BatchCopier, error) {
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("account id required")
	}
	if cfg.CentralBucket == "" {
		return nil, common.ErrBucketNotSet
	}
	if cfg.Central == nil {
		return nil, common.ErrStorageRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	if cfg.ReportPrefix == "" {
		cfg.ReportPrefix = "reports/batch"
	}
	if cfg.Priority <= 0 {
		cfg.Priority = 10
	}
	return &S3BatchCopier{
		api:           api,
		central:       cfg.Central,
		accountID:     cfg.AccountID,
		centralBucket: cfg.CentralBucket,
		reportPrefix:  cfg.ReportPrefix,
		priority:      cfg.Priority,
		logger:        cfg.Logger,
	}, nil
}

// Submit creates one S3 Batch Operations job copying the manifest's entries
// into the destination prefix of the central bucket.
func (c *S3BatchCopier) Submit(ctx context.Context, manifestRef, destinationPrefix, sourceRole string) (string, error) {
	meta, err := c.central.GetMetadata(ctx, manifestRef)
	if err != nil {
		return "", fmt.Errorf("failed to stat manifest %s: %w", manifestRef, err)
	}

	bucketArn := "arn:aws:s3:::" + c.centralBucket
	out, err := c.api.CreateJob(ctx, &s3control.CreateJobInput{
		AccountId:            aws.String(c.accountID),
		ClientRequestToken:   aws.String(uuid.NewString()),
		ConfirmationRequired: aws.Bool(false),
		Priority:             aws.Int32(c.priority),
		RoleArn:              aws.String(sourceRole),
		Manifest: &types.JobManifest{
			Location: &types.JobManifestLocation{
				ObjectArn: aws.String(bucketArn + "/" + manifestRef),
				ETag:      aws.String(meta.ETag),
			},
			Spec: &types.JobManifestSpec{
				Format: types.JobManifestFormatS3BatchOperationsCsv20180820,
				Fields: []types.JobManifestFieldName{
					types.JobManifestFieldNameBucket,
					types.JobManifestFieldNameKey,
					types.JobManifestFieldNameVersionId,
				},
			},
		},
		Operation: &types.JobOperation{
			S3PutObjectCopy: &types.S3CopyObjectOperation{
				TargetResource:  aws.String(bucketArn),
				TargetKeyPrefix: aws.String(destinationPrefix),
			},
		},
		Report: &types.JobReport{
			Enabled:     true,
			Bucket:      aws.String(bucketArn),
			Prefix:      aws.String(c.reportPrefix),
			Format:      types.JobReportFormatReportCsv20180820,
			ReportScope: types.JobReportScopeAllTasks,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create copy job for %s: %w", manifestRef, err)
	}

	jobID := aws.ToString(out.JobId)
	c.logger.Info(ctx, "copy job submitted",
		adapters.Field{Key: "job_id", Value: jobID},
		adapters.Field{Key: "manifest", Value: manifestRef},
		adapters.Field{Key: "destination", Value: destinationPrefix})
	return jobID, nil
}

// Describe polls a submitted job.
func (c *S3BatchCopier) Describe(ctx context.Context, jobID string) (*JobReport, error) {
	out, err := c.api.DescribeJob(ctx, &s3control.DescribeJobInput{
		AccountId: aws.String(c.accountID),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe job %s: %w", jobID, err)
	}
	if out.Job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	report := &JobReport{Status: statusFrom(out.Job.Status)}
	if p := out.Job.ProgressSummary; p != nil {
		report.Total = aws.ToInt64(p.TotalNumberOfTasks)
		report.Succeeded = aws.ToInt64(p.NumberOfTasksSucceeded)
		report.Failed = aws.ToInt64(p.NumberOfTasksFailed)
	}
	return report, nil
}

func statusFrom(s types.JobStatus) JobStatus {
	switch s {
	case types.JobStatusComplete:
		return StatusComplete
	case types.JobStatusFailed, types.JobStatusCancelled:
		return StatusFailed
	default:
		return StatusActive
	}
}
