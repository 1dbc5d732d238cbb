package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmMaxTokens is the FCM multicast limit.
const fcmMaxTokens = 500

// multicastSender is the part of *messaging.Client the transport uses.
type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMTransport delivers to Android devices through Firebase Cloud Messaging.
type FCMTransport struct {
	client multicastSender
}

// NewFCMTransport initialises a Firebase app from a service account file.
func NewFCMTransport(ctx context.Context, serviceAccountPath string) (*FCMTransport, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating FCM client: %w", err)
	}
	return &FCMTransport{client: client}, nil
}

// Name implements Transport.
func (t *FCMTransport) Name() TransportKind { return TransportFCM }

// Send implements Transport. Tokens go out in multicast chunks; a failed
// chunk is recorded in Err and the remaining chunks are still attempted.
func (t *FCMTransport) Send(ctx context.Context, tokens []string, msg Message) (TransportResult, error) {
	result := TransportResult{Targeted: len(tokens)}

	for start := 0; start < len(tokens); start += fcmMaxTokens {
		chunk := tokens[start:min(start+fcmMaxTokens, len(tokens))]
		resp, err := t.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		})
		if err != nil {
			result.Err = fmt.Errorf("fcm multicast: %w", err)
			continue
		}

		result.Sent += resp.SuccessCount
		for i, r := range resp.Responses {
			if r.Success || i >= len(chunk) {
				continue
			}
			if fcmTokenGone(r.Error) {
				result.Invalid = append(result.Invalid, chunk[i])
			} else {
				result.Err = fmt.Errorf("fcm send: %w", r.Error)
			}
		}
	}
	return result, nil
}

func fcmTokenGone(err error) bool {
	return err != nil && (messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err))
}
