package gcp

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/iam/v1"
	"google.golang.org/api/option"
	run "google.golang.org/api/run/v1"
)

// Client wraps the Cloud Run Admin and IAM API clients with authentication
type Client struct {
	projectID  string
	runService *run.APIService
	iamService *iam.Service
}

// ClientConfig holds configuration for the GCP client
type ClientConfig struct {
	ProjectID       string
	CredentialsFile string

	// Endpoint overrides, used against emulators and in tests
	RunEndpoint string
	IAMEndpoint string

	// WithoutAuthentication skips credential discovery entirely
	WithoutAuthentication bool
	Options               []option.ClientOption
}

// NewClient creates a GCP client. Without a credentials file it uses
// Application Default Credentials.
func NewClient(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	client := &Client{
		projectID: config.ProjectID,
	}

	// Set up authentication options
	opts := append([]option.ClientOption(nil), config.Options...)
	switch {
	case config.WithoutAuthentication:
		opts = append(opts, option.WithoutAuthentication())
	case config.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	default:
		creds, err := google.FindDefaultCredentials(ctx, run.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	runOpts := opts
	if config.RunEndpoint != "" {
		runOpts = append(append([]option.ClientOption(nil), opts...), option.WithEndpoint(config.RunEndpoint))
	}
	iamOpts := opts
	if config.IAMEndpoint != "" {
		iamOpts = append(append([]option.ClientOption(nil), opts...), option.WithEndpoint(config.IAMEndpoint))
	}

	var err error
	client.runService, err = run.NewService(ctx, runOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Run service: %w", err)
	}

	client.iamService, err = iam.NewService(ctx, iamOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create IAM service: %w", err)
	}

	return client, nil
}

func (c *Client) projectName() string {
	return "projects/" + c.projectID
}

func (c *Client) locationName(region string) string {
	return fmt.Sprintf("projects/%s/locations/%s", c.projectID, region)
}

func (c *Client) serviceName(region, name string) string {
	return fmt.Sprintf("projects/%s/locations/%s/services/%s", c.projectID, region, name)
}
