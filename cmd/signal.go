package main

import (
	"os"
	"os/signal"
	"syscall"
)

var (
	interruptChannel      chan os.Signal
	addHandlerChannel     = make(chan func())
	interruptHandlersDone = make(chan struct{})

	interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
)

// mainInterruptHandler runs the registered handlers in reverse order on the first signal.
func mainInterruptHandler() {
	var interruptCallbacks []func()

	for {
		select {
		case <-interruptChannel:
			for i := len(interruptCallbacks) - 1; i >= 0; i-- {
				interruptCallbacks[i]()
			}
			close(interruptHandlersDone)
			return

		case handler := <-addHandlerChannel:
			interruptCallbacks = append(interruptCallbacks, handler)
		}
	}
}

func addInterruptHandler(handler func()) {
	if interruptChannel == nil {
		interruptChannel = make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)
		go mainInterruptHandler()
	}

	addHandlerChannel <- handler
}
