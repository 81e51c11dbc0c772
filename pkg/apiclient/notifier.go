package apiclient

import "go.uber.org/zap"

// NotificationLevel is the severity of a user-facing notification.
type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationInfo    NotificationLevel = "info"
	NotificationWarn    NotificationLevel = "warn"
	NotificationError   NotificationLevel = "error"
)

// Notifier publishes user-facing notifications.
type Notifier interface {
	Notify(level NotificationLevel, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level NotificationLevel, message string)

// Notify calls the wrapped function.
func (notify NotifierFunc) Notify(level NotificationLevel, message string) {
	notify(level, message)
}

func shouldNotify(errorType ErrorType) bool {
	return errorType == ErrorTypeNetwork || errorType == ErrorTypeServer
}

// publish never blocks the caller and never lets a notifier panic escape. Deliveries are
// tracked so Flush can wait for them.
func (c *Client) publish(apiError *APIError) {
	if c.notifier == nil || apiError == nil || !shouldNotify(apiError.Type) {
		return
	}
	c.notifications.Add(1)
	go func() {
		defer c.notifications.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				c.logger.Warn("notifier panicked",
					zap.String("code", "client.notify.panic"),
					zap.Any("panic", recovered))
			}
		}()
		c.notifier.Notify(NotificationError, apiError.Message)
	}()
}

// Flush blocks until every notification published so far has been delivered. Short-lived
// callers such as CLIs call it before exiting so no notification is lost.
func (c *Client) Flush() {
	c.notifications.Wait()
}
