// cmd/client/repl.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codr1/courtline/internal/booking"
	"github.com/codr1/courtline/internal/invoke"
	"github.com/codr1/courtline/internal/wire"
)

func runREPL(ctx context.Context, client *invoke.Client) {
	in := bufio.NewScanner(os.Stdin)

	for ctx.Err() == nil {
		fmt.Println()
		fmt.Println("Facility Booking System")
		fmt.Println("=======================")
		fmt.Println("1. Check facility availability")
		fmt.Println("2. Book a facility")
		fmt.Println("3. Shift an existing booking")
		fmt.Println("4. Monitor a facility")
		fmt.Println("5. Cancel a booking")
		fmt.Println("6. Extend a booking")
		fmt.Println("7. Look up a booking")
		fmt.Println("q. Quit")

		choice, ok := prompt(in, "Enter your choice: ")
		if !ok {
			return
		}

		switch strings.TrimSpace(choice) {
		case "1":
			doAvailability(ctx, client, in)
		case "2":
			doBook(ctx, client, in)
		case "3":
			doShift(ctx, client, in)
		case "4":
			doMonitor(ctx, client, in)
		case "5":
			doCancel(ctx, client, in)
		case "6":
			doExtend(ctx, client, in)
		case "7":
			doGetBooking(ctx, client, in)
		case "q", "quit", "exit":
			return
		default:
			fmt.Println("Invalid choice. Please try again.")
		}
	}
}

func doAvailability(ctx context.Context, client *invoke.Client, in *bufio.Scanner) {
	name, ok := prompt(in, "Facility name: ")
	if !ok {
		return
	}
	daysInput, ok := prompt(in, "Days (comma-separated, e.g. Mon,Tue): ")
	if !ok {
		return
	}
	var days []booking.Day
	for _, part := range strings.Split(daysInput, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, err := booking.ParseDay(part)
		if err != nil {
			fmt.Printf("Skipping %q: %v\n", part, err)
			continue
		}
		days = append(days, day)
	}

	reply, err := client.Call(ctx, wire.QueryAvailability{Facility: name, Days: days})
	if !report(reply, err) {
		return
	}
	availability, err := wire.ParseAvailabilityPayload(reply.Payload)
	if err != nil {
		fmt.Printf("Unreadable reply: %v\n", err)
		return
	}
	for _, day := range availability {
		fmt.Printf("%s:\n", day.Day)
		if len(day.Booked) == 0 {
			fmt.Println("  no bookings")
			continue
		}
		for _, b := range day.Booked {
			fmt.Printf("  %s  (booking %s)\n", b.Interval, b.BookingID)
		}
	}
}

func doBook(ctx context.Context, client *invoke.Client, in *bufio.Scanner) {
	name, ok := prompt(in, "Facility name: ")
	if !ok {
		return
	}
	start, ok := promptTimePoint(in, "Start")
	if !ok {
		return
	}
	end, ok := promptTimePoint(in, "End")
	if !ok {
		return
	}

	reply, err := client.Call(ctx, wire.Book{Facility: name, Interval: booking.Interval{Start: start, End: end}})
	if !report(reply, err) {
		return
	}
	id, err := wire.ParseBookingIDPayload(reply.Payload)
	if err != nil {
		fmt.Printf("Unreadable reply: %v\n", err)
		return
	}
	fmt.Printf("Booked. Confirmation ID: %s\n", id)
}

func doShift(ctx context.Context, client *invoke.Client, in *bufio.Scanner) {
	id, ok := promptBookingID(in)
	if !ok {
		return
	}
	offset, ok := promptMinutes(in, "Offset in minutes (negative moves earlier): ")
	if !ok {
		return
	}

	reply, err := client.Call(ctx, wire.Shift{BookingID: id, OffsetMinutes: int32(offset)})
	if !report(reply, err) {
		return
	}
	iv, err := wire.ParseIntervalPayload(reply.Payload)
	if err != nil {
		fmt.Printf("Unreadable reply: %v\n", err)
		return
	}
	fmt.Printf("Booking moved to %s\n", iv)
}

func doMonitor(ctx context.Context, client *invoke.Client, in *bufio.Scanner) {
	name, ok := prompt(in, "Facility name: ")
	if !ok {
		return
	}
	seconds, ok := promptMinutes(in, "Seconds to monitor: ")
	if !ok || seconds <= 0 {
		fmt.Println("Monitoring window must be positive.")
		return
	}

	fmt.Printf("Monitoring %s for %ds; further requests are blocked until the window ends.\n", name, seconds)
	err := client.Monitor(ctx, name, time.Duration(seconds)*time.Second, func(ev booking.Event) {
		fmt.Printf("[%s] booking %s %s → %s\n", ev.Facility, ev.BookingID, ev.Kind, ev.Interval)
	})
	if err != nil {
		fmt.Printf("Monitoring failed: %v\n", err)
		return
	}
	fmt.Println("Monitoring window ended.")
}

func doCancel(ctx context.Context, client *invoke.Client, in *bufio.Scanner) {
	id, ok := promptBookingID(in)
	if !ok {
		return
	}
	reply, err := client.Call(ctx, wire.Cancel{BookingID: id})
	if !report(reply, err) {
		return
	}
	fmt.Println("Booking cancelled.")
}

func doExtend(ctx context.Context, client *invoke.Client, in *bufio.Scanner) {
	id, ok := promptBookingID(in)
	if !ok {
		return
	}
	minutes, ok := promptMinutes(in, "Extension in minutes: ")
	if !ok {
		return
	}
	reply, err := client.Call(ctx, wire.Extend{BookingID: id, ExtendMinutes: int32(minutes)})
	if !report(reply, err) {
		return
	}
	iv, err := wire.ParseIntervalPayload(reply.Payload)
	if err != nil {
		fmt.Printf("Unreadable reply: %v\n", err)
		return
	}
	fmt.Printf("Booking extended to %s\n", iv)
}

func doGetBooking(ctx context.Context, client *invoke.Client, in *bufio.Scanner) {
	id, ok := promptBookingID(in)
	if !ok {
		return
	}
	reply, err := client.Call(ctx, wire.GetBooking{BookingID: id})
	if !report(reply, err) {
		return
	}
	details, err := wire.ParseBookingDetailsPayload(reply.Payload)
	if err != nil {
		fmt.Printf("Unreadable reply: %v\n", err)
		return
	}
	fmt.Printf("Booking %s: %s, %s\n", id, details.Facility, details.Interval)
}

// report prints transport or domain errors and reports whether the
// reply is an OK one worth parsing.
func report(reply *wire.Reply, err error) bool {
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
		return false
	}
	if replyErr := invoke.ReplyError(reply); replyErr != nil {
		fmt.Printf("Server error: %v\n", replyErr)
		return false
	}
	return true
}

func prompt(in *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	if !in.Scan() {
		return "", false
	}
	return strings.TrimSpace(in.Text()), true
}

func promptBookingID(in *bufio.Scanner) (uuid.UUID, bool) {
	for {
		raw, ok := prompt(in, "Booking ID: ")
		if !ok {
			return uuid.Nil, false
		}
		id, err := uuid.Parse(raw)
		if err == nil {
			return id, true
		}
		fmt.Println("Invalid booking ID format. Please try again.")
	}
}

func promptMinutes(in *bufio.Scanner, label string) (int, bool) {
	for {
		raw, ok := prompt(in, label)
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(raw)
		if err == nil {
			return n, true
		}
		fmt.Println("Invalid number. Please try again.")
	}
}

// promptTimePoint reads a day plus an HH:MM time.
func promptTimePoint(in *bufio.Scanner, label string) (booking.TimePoint, bool) {
	var day booking.Day
	for {
		raw, ok := prompt(in, label+" day (e.g. Mon): ")
		if !ok {
			return booking.TimePoint{}, false
		}
		parsed, err := booking.ParseDay(raw)
		if err == nil {
			day = parsed
			break
		}
		fmt.Println("Invalid day. Please try again.")
	}
	for {
		raw, ok := prompt(in, label+" time (HH:MM): ")
		if !ok {
			return booking.TimePoint{}, false
		}
		parts := strings.Split(raw, ":")
		if len(parts) == 2 {
			hour, errH := strconv.Atoi(parts[0])
			minute, errM := strconv.Atoi(parts[1])
			if errH == nil && errM == nil && hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
				return booking.TimePoint{Day: day, Hour: uint8(hour), Minute: uint8(minute)}, true
			}
		}
		fmt.Println("Invalid time. Use HH:MM, e.g. 09:30.")
	}
}
