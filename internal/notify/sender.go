package notify

import logrus "github.com/sirupsen/logrus"

// LogSender is the development stand-in for a real delivery channel: it
// writes the notification to the log and reports success. Production wires
// real push/email/sms senders in its place.
type LogSender struct {
	Channel string // "push", "email", "sms"
}

func (s LogSender) Method() string { return s.Channel }

func (s LogSender) Send(visitID uint, notifType, message string) error {
	logrus.WithFields(logrus.Fields{
		"visit_id": visitID,
		"type":     notifType,
		"method":   s.Channel,
	}).Info(message)
	return nil
}
