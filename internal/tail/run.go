package tail

import tea "github.com/charmbracelet/bubbletea"

// Run shows the live tail of meetingID served at base until the user quits.
func Run(base, meetingID, token string) error {
	u, err := EventsURL(base, meetingID, token)
	if err != nil {
		return err
	}
	dial := func() (Source, error) { return Dial(u) }
	_, err = tea.NewProgram(New(meetingID, dial), tea.WithAltScreen()).Run()
	return err
}
