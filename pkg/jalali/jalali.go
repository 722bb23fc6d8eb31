// Package jalali implements civil date arithmetic for the Jalali
// (Persian) calendar using the Birashk-style 33-year break table.
//
// Only whole dates are handled here; composing a wall-clock time and a
// timezone onto a converted date is the caller's concern.
package jalali

import (
	"fmt"
	"time"
)

// Date is a Jalali civil date.
type Date struct {
	Year  int
	Month int // 1..12
	Day   int // 1..31
}

// MonthNames holds the Persian month names, index 0 = Farvardin.
var MonthNames = [12]string{
	"فروردین", "اردیبهشت", "خرداد",
	"تیر", "مرداد", "شهریور",
	"مهر", "آبان", "آذر",
	"دی", "بهمن", "اسفند",
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Valid reports whether d is a real calendar date.
func (d Date) Valid() bool {
	if d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	return d.Day <= MonthLength(d.Year, d.Month)
}

// Gregorian converts d to the proleptic Gregorian calendar.
func (d Date) Gregorian() (year, month, day int) {
	return d2g(j2d(d.Year, d.Month, d.Day))
}

// FromTime returns the Jalali date of t (in t's location).
func FromTime(t time.Time) Date {
	gy, gm, gd := t.Date()
	jy, jm, jd := d2j(g2d(gy, int(gm), gd))
	return Date{Year: jy, Month: jm, Day: jd}
}

// MonthLength returns the number of days in the given Jalali month.
func MonthLength(jy, jm int) int {
	switch {
	case jm <= 6:
		return 31
	case jm <= 11:
		return 30
	default:
		if IsLeap(jy) {
			return 30
		}
		return 29
	}
}

// IsLeap reports whether jy is a Jalali leap year.
func IsLeap(jy int) bool {
	leap, _, _ := jalCal(jy)
	return leap == 1
}

// WeekdayIndex returns the Persian week index of d: 0 = Saturday .. 6 = Friday.
func WeekdayIndex(d Date) int {
	return (j2d(d.Year, d.Month, d.Day) + 2) % 7
}

// breaks lists the Jalali years in which the 33-year leap cycle shifts.
var breaks = [...]int{
	-61, 9, 38, 199, 426, 686, 756, 818, 1111, 1181,
	1210, 1635, 2060, 2097, 2192, 2262, 2324, 2394, 2456, 3178,
}

// jalCal determines leap status and the March day of Farvardin 1 for jy.
// leap is in 0..4 where 1 means leap year.
func jalCal(jy int) (leap, gy, march int) {
	gy = jy + 621
	leapJ := -14
	jp := breaks[0]

	var jump int
	for i := 1; i < len(breaks); i++ {
		jm := breaks[i]
		jump = jm - jp
		if jy < jm {
			break
		}
		leapJ += jump/33*8 + jump%33/4
		jp = jm
	}
	n := jy - jp

	leapJ += n/33*8 + (n%33+3)/4
	if jump%33 == 4 && jump-n == 4 {
		leapJ++
	}

	leapG := gy/4 - (gy/100+1)*3/4 - 150
	march = 20 + leapJ - leapG

	if jump-n < 6 {
		n = n - jump + (jump+4)/33*33
	}
	leap = ((n+1)%33 - 1) % 4
	if leap == -1 {
		leap = 4
	}
	return leap, gy, march
}

// j2d converts a Jalali date to its Julian day number.
func j2d(jy, jm, jd int) int {
	_, gy, march := jalCal(jy)
	return g2d(gy, 3, march) + (jm-1)*31 - jm/7*(jm-7) + jd - 1
}

// d2j converts a Julian day number to a Jalali date.
func d2j(jdn int) (jy, jm, jd int) {
	gy, _, _ := d2g(jdn)
	jy = gy - 621
	leap, _, march := jalCal(jy)
	k := jdn - g2d(gy, 3, march)

	if k >= 0 {
		if k <= 185 {
			jm = 1 + k/31
			jd = k%31 + 1
			return jy, jm, jd
		}
		k -= 186
	} else {
		jy--
		k += 179
		if leap == 1 {
			k++
		}
	}
	jm = 7 + k/30
	jd = k%30 + 1
	return jy, jm, jd
}

// g2d converts a Gregorian date to its Julian day number.
func g2d(gy, gm, gd int) int {
	d := (gy+(gm-8)/6+100100)*1461/4 + (153*((gm+9)%12)+2)/5 + gd - 34840408
	return d - (gy+100100+(gm-8)/6)/100*3/4 + 752
}

// d2g converts a Julian day number to a Gregorian date.
func d2g(jdn int) (gy, gm, gd int) {
	j := 4*jdn + 139361631
	j += (4*jdn+183187720)/146097*3/4*4 - 3908
	i := j%1461/4*5 + 308
	gd = i%153/5 + 1
	gm = i/153%12 + 1
	gy = j/1461 - 100100 + (8-gm)/6
	return gy, gm, gd
}
