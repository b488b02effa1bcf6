// Package hw provides the peripherals behind the pulse controller and the
// lifecycle: pulse outputs, mode-select inputs and millisecond clocks.
//
// The serial implementations talk to a driver board over a serial link
// using a line protocol:
//
//	L <level>   set PWM level
//	F <hz>      set PWM frequency
//	D 0|1       drive the pin statically low or high
//
// The mode-select input is read from the CTS modem line.
package hw
