package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// GetApp creates a Firebase App instance, using the service account file when one is configured.
func GetApp(ctx context.Context, projectID string, credentialsFile *string) (*firebase.App, error) {
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	var opts []option.ClientOption
	if credentialsFile != nil && *credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(*credentialsFile))
	}

	return firebase.NewApp(ctx, conf, opts...)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client.
func InitFirebaseAuth(ctx context.Context, projectID string, credentialsFile *string) (*firebaseauth.Client, error) {
	firebaseApp, err := GetApp(ctx, projectID, credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app [%w]", err)
	}

	fbAuth, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase auth [%w]", err)
	}

	return fbAuth, nil
}
