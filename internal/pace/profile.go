package pace

const DefaultProfileSize = 100

// Profile is the rolling window of the walker's recent speeds.
type Profile struct {
	size    int
	samples []float64
	next    int
	sum     float64
	weather float64
}

func NewProfile(size int) *Profile {
	if size <= 0 {
		size = DefaultProfileSize
	}
	return &Profile{size: size, samples: make([]float64, 0, size), weather: 1}
}

// Add records a speed, evicting the oldest once the window is full.
func (p *Profile) Add(speed float64) {
	if len(p.samples) < p.size {
		p.samples = append(p.samples, speed)
		p.sum += speed
		return
	}
	p.sum += speed - p.samples[p.next]
	p.samples[p.next] = speed
	p.next = (p.next + 1) % p.size
}

func (p *Profile) Len() int { return len(p.samples) }

// Average is the plain rolling average, 0 when empty.
func (p *Profile) Average() float64 {
	if len(p.samples) == 0 {
		return 0
	}
	return p.sum / float64(len(p.samples))
}

// EffectiveSpeed is the average scaled by the weather factor.
func (p *Profile) EffectiveSpeed() float64 {
	return p.Average() * p.weather
}

func (p *Profile) WeatherFactor() float64 { return p.weather }

// SetWeatherFactor ignores non-positive factors.
func (p *Profile) SetWeatherFactor(f float64) {
	if f > 0 {
		p.weather = f
	}
}
