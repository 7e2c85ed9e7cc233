package rsi

import "fmt"

// Session is the single monotonically-increasing naming authority for one
// compiler invocation. Hardware-register and color identities, as well as
// every fresh reference/label name a pass mints, are scoped to a Session
// rather than a process-wide atomic counter, so two invocations in the
// same process never see cross-talk.
type Session struct {
	nextID int
}

func NewSession() *Session { return &Session{} }

func (s *Session) next() int {
	s.nextID++
	return s.nextID
}

func (s *Session) NewReference(hint string) Reference {
	return Reference{Name: fmt.Sprintf("%s_%d", hint, s.next())}
}

func (s *Session) NewLabel(hint string) Label {
	return Label{Name: fmt.Sprintf("%s_%d", hint, s.next())}
}

func (s *Session) NewColor() Color {
	return Color{id: s.next()}
}

func (s *Session) NewHWRegister(name string) HWRegister {
	return HWRegister{ID: s.next(), Name: name}
}
