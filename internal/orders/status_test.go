package orders

import "testing"

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusUrgent, StatusConfirmed, StatusShipped, StatusCancelled}

	allowed := map[Status]map[Status]bool{
		StatusPending:   {StatusUrgent: true, StatusConfirmed: true, StatusCancelled: true},
		StatusUrgent:    {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed: {StatusShipped: true, StatusCancelled: true},
		StatusShipped:   {},
		StatusCancelled: {},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestConfirmOnlyFromPendingOrUrgent(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusUrgent} {
		if !CanTransition(from, StatusConfirmed) {
			t.Errorf("confirm should be legal from %s", from)
		}
	}
	for _, from := range []Status{StatusConfirmed, StatusShipped, StatusCancelled} {
		if CanTransition(from, StatusConfirmed) {
			t.Errorf("confirm should be illegal from %s", from)
		}
	}
}

func TestCancelForbiddenFromTerminal(t *testing.T) {
	for _, from := range []Status{StatusShipped, StatusCancelled} {
		if CanTransition(from, StatusCancelled) {
			t.Errorf("cancel should be illegal from %s", from)
		}
	}
}

func TestShipOnlyFromConfirmed(t *testing.T) {
	if !CanTransition(StatusConfirmed, StatusShipped) {
		t.Error("ship should be legal from CONFIRMED")
	}
	for _, from := range []Status{StatusPending, StatusUrgent, StatusShipped, StatusCancelled} {
		if CanTransition(from, StatusShipped) {
			t.Errorf("ship should be illegal from %s", from)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusShipped, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusUrgent, StatusConfirmed} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestKnown(t *testing.T) {
	if Status("SUBMITTED").Known() {
		t.Error("SUBMITTED is not part of the status set")
	}
	if !StatusUrgent.Known() {
		t.Error("URGENT should be known")
	}
}
