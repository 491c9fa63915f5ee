//go:build atmega4809

// Package platform binds the transaction state machine to controller
// silicon. Each adapter implements twim.Hardware for one chip family and
// routes the chip's master interrupt into the installed event handler.
package platform

import (
	"device/avr"
	"runtime/interrupt"

	"i2cmaster-go/twim"
)

// TWI master register bits; values follow the datasheet.
const (
	mctrlaEnable = 0x01
	mctrlaWIEN   = 0x40
	mctrlaRIEN   = 0x80

	mctrlbMcmdStop = 0x03
	mctrlbFlush    = 0x08

	mstatusBusStateIdle = 0x01
	mstatusBusErr       = 0x04
	mstatusArbLost      = 0x08
	mstatusRxNack       = 0x10
	mstatusWIF          = 0x40
	mstatusRIF          = 0x80

	ctrlaSDASetup4Cyc = 0x10
	dbgctrlRun        = 0x01

	// 100 kHz with the stock 20 MHz oscillator divided down to 3.33 MHz.
	baud100kHz = 0x0B
)

// TWI0 is the on-chip two-wire controller in master mode. There is exactly
// one instance per chip; use Controller0.
type TWI0 struct {
	handler func()
}

var twi0 TWI0

var _ twim.Hardware = (*TWI0)(nil)

// Controller0 returns the TWI0 adapter.
func Controller0() *TWI0 { return &twi0 }

// OnEvent installs the event handler, normally twim.(*Controller).HandleEvent.
// Install it before EnableInterrupt.
func (t *TWI0) OnEvent(h func()) { t.handler = h }

// EnableInterrupt routes the TWI0 master interrupt to the event handler.
func (t *TWI0) EnableInterrupt() {
	interrupt.New(avr.IRQ_TWI0_TWIM, handleTWI0)
}

func handleTWI0(interrupt.Interrupt) {
	if h := twi0.handler; h != nil {
		h()
	}
}

// Configure enables the master with read and write interrupts at 100 kHz and
// forces the bus state to idle.
func (t *TWI0) Configure() error {
	avr.TWI0.CTRLA.Set(ctrlaSDASetup4Cyc)
	avr.TWI0.DBGCTRL.Set(dbgctrlRun)
	avr.TWI0.MBAUD.Set(baud100kHz)
	avr.TWI0.MCTRLA.Set(mctrlaRIEN | mctrlaWIEN | mctrlaEnable)
	avr.TWI0.MSTATUS.Set(mstatusBusStateIdle)
	return nil
}

func (t *TWI0) WriteAddress(v byte) { avr.TWI0.MADDR.Set(v) }
func (t *TWI0) WriteData(v byte)    { avr.TWI0.MDATA.Set(v) }

// ReadData returns the received byte. The register read releases the clock
// hold and starts reception of the next byte.
func (t *TWI0) ReadData() byte { return avr.TWI0.MDATA.Get() }

// SendStop issues the stop command. The latched error flags are cleared
// first (write one to clear) so they cannot leak into the next transaction.
func (t *TWI0) SendStop() {
	avr.TWI0.MSTATUS.Set(mstatusBusErr | mstatusArbLost)
	avr.TWI0.MCTRLB.Set(mctrlbMcmdStop)
}

// FlushReset flushes the internal state of the master and forces the bus
// state back to idle.
func (t *TWI0) FlushReset() {
	avr.TWI0.MCTRLB.Set(mctrlbFlush)
	avr.TWI0.MSTATUS.Set(mstatusBusErr | mstatusArbLost | mstatusBusStateIdle)
}

// Status samples the master status register. Flags are only meaningful while
// a read or write interrupt is pending; outside of that the sample reports
// clean, matching when the interrupt handler would actually run.
func (t *TWI0) Status() twim.StatusFlags {
	s := avr.TWI0.MSTATUS.Get()
	if s&(mstatusRIF|mstatusWIF) == 0 {
		return twim.StatusFlags{}
	}
	return twim.StatusFlags{
		PeerNack: s&mstatusRxNack != 0,
		ArbLost:  s&mstatusArbLost != 0,
		BusErr:   s&mstatusBusErr != 0,
	}
}
