package plans

import "fmt"

// Subscribe upserts a subscription row. $1 event, $2 queue name.
func Subscribe(schema string) string {
	return fmt.Sprintf(`
		INSERT INTO %s.subscription (event, name)
		VALUES ($1, $2)
		ON CONFLICT (event, name) DO UPDATE SET updated_on = now()`,
		schema)
}

// Unsubscribe deletes a subscription row. $1 event, $2 queue name.
func Unsubscribe(schema string) string {
	return fmt.Sprintf(`
		DELETE FROM %s.subscription
		WHERE event = $1 AND name = $2`,
		schema)
}

// GetQueuesForEvent resolves the queues subscribed to an event. $1 event.
func GetQueuesForEvent(schema string) string {
	return fmt.Sprintf(`
		SELECT name
		FROM %s.subscription
		WHERE event = $1
		ORDER BY name`,
		schema)
}
