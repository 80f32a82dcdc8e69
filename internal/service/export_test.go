package service

import "time"

func (s *PairingService) SetNow(f func() time.Time) { s.now = f }

func (s *DeviceService) SetNow(f func() time.Time) { s.now = f }

func (s *RelayService) SetNow(f func() time.Time) { s.now = f }
