// Command mock-tms simulates the thermal management microcontroller side
// of the wire contract in §6, built on the same plant model the MPC
// optimizer uses (§4.A), so the control stack can be developed without
// real oven hardware — the simulation backend collaborator named as
// out-of-scope in §1 but specified as a concrete binary in §10/L.
//
// Usage:
//
//	mock-tms -port /dev/ttyUSB1 -baud 115200 [-fault-after 45s]
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/tarm/serial"

	"github.com/holla2040/reflow-mpc/internal/plant"
)

// wireOutbound mirrors tmslink's inbound status shape, from the MCU's
// point of view: this is what mock-tms transmits (§6's "from MCU" frame).
type wireOutbound struct {
	Time    int64   `json:"time"`
	Current float64 `json:"current"`
	State   int     `json:"state"`
	PWM     int     `json:"pwm"`
	Door    string  `json:"door"`
	Error   uint8   `json:"error"`
}

// wireLog mirrors tmslink's inbound log shape.
type wireLog struct {
	Message  string `json:"message"`
	Severity int    `json:"severity"`
	Time     int64  `json:"time"`
}

// wireInbound mirrors tmslink's outbound heartbeat shape, from the MCU's
// point of view: this is what mock-tms receives (§6's "to MCU" frame).
type wireInbound struct {
	State int `json:"state"`
	PWM   int `json:"pwm"`
}

func main() {
	port := flag.String("port", "/dev/ttyUSB1", "serial port to simulate the oven MCU on")
	baud := flag.Int("baud", 115200, "serial baud rate")
	ambient := flag.Float64("ambient", 25.0, "initial/ambient temperature, degrees C")
	faultAfter := flag.Duration("fault-after", 0, "inject a fault error bit this long after start; 0 disables (original's disabled set_error_after_s=45, §9(c))")
	flag.Parse()

	sp, err := serial.OpenPort(&serial.Config{Name: *port, Baud: *baud, ReadTimeout: time.Second})
	if err != nil {
		log.Fatalf("mock-tms: open port %s: %v", *port, err)
	}
	defer sp.Close()

	sim := &simulator{
		state:      plant.State{T: *ambient, DT: 0},
		started:    time.Now(),
		faultAfter: *faultAfter,
	}

	done := make(chan struct{})
	go sim.readHeartbeats(sp, done)
	sim.writeStatus(sp, done)
}

// simulator holds the mock MCU's plant state and desired inputs last
// received from the controller's heartbeat.
type simulator struct {
	state      plant.State
	started    time.Time
	faultAfter time.Duration

	desiredState int
	desiredPWM   int
}

func (s *simulator) readHeartbeats(sp *serial.Port, done chan<- struct{}) {
	reader := bufio.NewReader(sp)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var in wireInbound
			if err := json.Unmarshal(line, &in); err != nil {
				log.Printf("mock-tms: discarding malformed heartbeat: %v", err)
			} else {
				s.desiredState = in.State
				s.desiredPWM = in.PWM
			}
		}
		if err != nil {
			if err.Error() != "EOF" {
				log.Printf("mock-tms: read error: %v", err)
				close(done)
				return
			}
		}
	}
}

func (s *simulator) writeStatus(sp *serial.Port, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.state = plant.Step(s.state, float64(s.desiredPWM), 1.0)

			var errMask uint8
			if s.faultAfter > 0 && time.Since(s.started) >= s.faultAfter {
				errMask = 0x40 // "fault while reading current temperature"
			}

			frame := wireOutbound{
				Time:    time.Since(s.started).Milliseconds(),
				Current: s.state.T,
				State:   s.desiredState,
				PWM:     s.desiredPWM,
				Door:    "closed",
				Error:   errMask,
			}
			data, err := json.Marshal(frame)
			if err != nil {
				log.Printf("mock-tms: encode status: %v", err)
				continue
			}
			if _, err := sp.Write(append(data, '\n')); err != nil {
				log.Printf("mock-tms: write status: %v", err)
				return
			}
		}
	}
}
