package pairing

import "fmt"

// confirmationText is sent to the freshly linked device.
func confirmationText(sessionName, number, sessionID string) string {
	return fmt.Sprintf(
		"*SESSION NAME: %s*\n\nSuccessfully connected!\nNumber: %s\nSession ID: %s",
		sessionName, number, sessionID,
	)
}
