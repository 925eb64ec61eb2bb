// Package notifications sends push notifications to a user's registered
// devices via Firebase Cloud Messaging.
package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	shared "github.com/stridecoach/server/pkg"
)

type FCMAdapter struct {
	client *messaging.Client
	fs     *firestore.Client
}

func NewFCMAdapter(ctx context.Context, app *firebase.App, fs *firestore.Client) (*FCMAdapter, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return &FCMAdapter{client: client, fs: fs}, nil
}

// NotifyReconnectRequired pushes a "reconnect your watch" prompt to every
// device registered for the user. Invoked when a connection enters the
// auth-error state.
func (a *FCMAdapter) NotifyReconnectRequired(ctx context.Context, userID, reason string) error {
	tokens, err := a.deviceTokens(ctx, userID)
	if err != nil {
		return err
	}
	return a.send(ctx, userID, tokens,
		"Watch connection lost",
		"Reconnect your wearable account to keep activities syncing.",
		map[string]string{"type": "reconnect_required", "reason": reason})
}

func (a *FCMAdapter) deviceTokens(ctx context.Context, userID string) ([]string, error) {
	snap, err := a.fs.Collection(shared.CollectionUsers).Doc(userID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read user document: %w", err)
	}
	raw, ok := snap.Data()["fcm_tokens"].([]interface{})
	if !ok {
		return nil, nil
	}
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok && s != "" {
			tokens = append(tokens, s)
		}
	}
	return tokens, nil
}

func (a *FCMAdapter) send(ctx context.Context, userID string, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		slog.Debug("No tokens for user, skipping notification", "user_id", userID)
		return nil
	}

	slog.Info("Sending push notification", "user_id", userID, "token_count", len(tokens), "title", title)

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	response, err := a.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send multicast message: %w", err)
	}

	if response.FailureCount > 0 {
		slog.Warn("Some push notifications failed to send",
			"user_id", userID,
			"failure_count", response.FailureCount,
			"success_count", response.SuccessCount,
		)
		a.cleanupDeadTokens(ctx, userID, tokens, response.Responses)
	}

	return nil
}

// cleanupDeadTokens removes FCM tokens that returned NotRegistered from the user document.
func (a *FCMAdapter) cleanupDeadTokens(ctx context.Context, userID string, tokens []string, responses []*messaging.SendResponse) {
	var deadTokens []interface{}
	for i, resp := range responses {
		if resp.Error != nil && messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			deadTokens = append(deadTokens, tokens[i])
		}
	}

	if len(deadTokens) == 0 {
		return
	}

	slog.Info("Removing dead FCM tokens", "user_id", userID, "count", len(deadTokens))
	_, err := a.fs.Collection(shared.CollectionUsers).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "fcm_tokens", Value: firestore.ArrayRemove(deadTokens...)},
	})
	if err != nil {
		slog.Error("Failed to remove dead FCM tokens", "user_id", userID, "error", err)
	}
}
