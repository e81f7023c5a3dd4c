// Package transform maps raw event payloads to notification create
// requests. Transformers are pure: no I/O, no side effects.
package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/notification"

	"github.com/xeipuuv/gojsonschema"
)

// Topic names of the subscribed event set.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderShipped   = "order.shipped"
	TopicOrderDelivered = "order.delivered"
	TopicPaymentSuccess = "payment.success"
	TopicPaymentFailed  = "payment.failed"
	TopicInventoryLow   = "inventory.low"
)

// Payload is a decoded event body.
type Payload map[string]interface{}

// Transformer turns one topic's payload into a create request. Required
// fields are enforced with a JSON Schema; everything except userId is
// carried verbatim into metadata.
type Transformer struct {
	Topic    string
	Category notification.Category

	schema *gojsonschema.Schema
	render func(Payload) (title, message string)
}

// Transform validates and converts a raw payload. A decode failure or a
// missing required field yields a MALFORMED_PAYLOAD error.
func (t *Transformer) Transform(raw []byte) (*notification.CreateRequest, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperrors.NewMalformedPayloadError(t.Topic, fmt.Sprintf("decode: %v", err))
	}

	result, err := t.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return nil, apperrors.NewMalformedPayloadError(t.Topic, fmt.Sprintf("validate: %v", err))
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		sort.Strings(details)
		return nil, apperrors.NewMalformedPayloadError(t.Topic, fmt.Sprintf("schema: %v", details))
	}

	userID := stringValue(payload["userId"])

	metadata := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "userId" {
			continue
		}
		metadata[k] = v
	}

	title, message := t.render(payload)

	return &notification.CreateRequest{
		UserID:   userID,
		Category: t.Category,
		Title:    title,
		Message:  message,
		Metadata: metadata,
	}, nil
}

// Registry builds the full topic-to-transformer mapping. Called once at
// startup; the returned map is never mutated afterwards.
func Registry() map[string]*Transformer {
	transformers := []*Transformer{
		newTransformer(
			TopicOrderCreated,
			notification.CategoryOrderConfirmed,
			[]string{"userId", "orderId", "orderNumber", "totalAmount"},
			func(p Payload) (string, string) {
				return "Order Confirmed", fmt.Sprintf(
					"Your order #%s has been confirmed. Total: $%s",
					stringValue(p["orderNumber"]), stringValue(p["totalAmount"]))
			},
		),
		newTransformer(
			TopicOrderShipped,
			notification.CategoryOrderShipped,
			[]string{"userId", "orderId", "orderNumber", "trackingNumber"},
			func(p Payload) (string, string) {
				return "Order Shipped", fmt.Sprintf(
					"Your order #%s has been shipped. Tracking: %s",
					stringValue(p["orderNumber"]), stringValue(p["trackingNumber"]))
			},
		),
		newTransformer(
			TopicOrderDelivered,
			notification.CategoryOrderDelivered,
			[]string{"userId", "orderId", "orderNumber"},
			func(p Payload) (string, string) {
				return "Order Delivered", fmt.Sprintf(
					"Your order #%s has been delivered. Enjoy your purchase!",
					stringValue(p["orderNumber"]))
			},
		),
		newTransformer(
			TopicPaymentSuccess,
			notification.CategoryPaymentSuccess,
			[]string{"userId", "orderId", "amount", "paymentMethod"},
			func(p Payload) (string, string) {
				return "Payment Successful", fmt.Sprintf(
					"Payment of $%s via %s was successful for order #%s",
					stringValue(p["amount"]), stringValue(p["paymentMethod"]), stringValue(p["orderId"]))
			},
		),
		newTransformer(
			TopicPaymentFailed,
			notification.CategoryPaymentFailed,
			[]string{"userId", "orderId", "amount", "reason"},
			func(p Payload) (string, string) {
				return "Payment Failed", fmt.Sprintf(
					"Payment of $%s failed for order #%s. Reason: %s",
					stringValue(p["amount"]), stringValue(p["orderId"]), stringValue(p["reason"]))
			},
		),
		newTransformer(
			TopicInventoryLow,
			notification.CategoryInventoryLow,
			[]string{"userId", "productId", "productName", "currentStock"},
			func(p Payload) (string, string) {
				return "Low Stock Alert", fmt.Sprintf(
					"Product %q is running low. Only %s items left.",
					stringValue(p["productName"]), stringValue(p["currentStock"]))
			},
		),
	}

	registry := make(map[string]*Transformer, len(transformers))
	for _, t := range transformers {
		registry[t.Topic] = t
	}
	return registry
}

func newTransformer(topic string, category notification.Category, required []string, render func(Payload) (string, string)) *Transformer {
	schemaMap := map[string]interface{}{
		"type":     "object",
		"required": required,
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		// Schemas are static; a failure here is a programming error.
		panic(fmt.Sprintf("compile schema for %s: %v", topic, err))
	}

	return &Transformer{
		Topic:    topic,
		Category: category,
		schema:   schema,
		render:   render,
	}
}

// stringValue renders a payload value for template interpolation. Numbers
// print without an exponent or trailing zeros (49.99 -> "49.99", 5 -> "5").
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
